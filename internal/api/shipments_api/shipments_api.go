// Package shipments_api exposes operator actions, webhook ingress and the
// public tracking read over HTTP.
package shipments_api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/ShipBox/internal/errs"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/services/collection"
	"github.com/BearBump/ShipBox/internal/services/lifecycle"
	"github.com/BearBump/ShipBox/internal/services/reconciler"
	"github.com/BearBump/ShipBox/internal/services/tracking"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

// ShipmentLister serves the operator's working list.
type ShipmentLister interface {
	ListOperational(ctx context.Context, customerID uint64) ([]*models.Shipment, error)
}

type Deps struct {
	Lifecycle  *lifecycle.Service
	Collection *collection.Service
	Reconciler *reconciler.Service
	Tracking   *tracking.Service
	Shipments  ShipmentLister

	// MaxBodyBytes limits request bodies; images travel inline.
	MaxBodyBytes int64
}

type API struct {
	lc       *lifecycle.Service
	col      *collection.Service
	rec      *reconciler.Service
	pub      *tracking.Service
	list     ShipmentLister
	validate *validator.Validate
	maxBody  int64
}

func New(d Deps) *API {
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = 10 << 20
	}
	return &API{
		lc:       d.Lifecycle,
		col:      d.Collection,
		rec:      d.Reconciler,
		pub:      d.Tracking,
		list:     d.Shipments,
		validate: newValidator(),
		maxBody:  d.MaxBodyBytes,
	}
}

func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/shipments", func(r chi.Router) {
		r.Post("/", a.createShipment)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.getShipment)
			r.Delete("/", a.deleteShipment)
			r.Get("/history", a.getHistory)
			r.Post("/transition", a.transition)
			r.Post("/assign", a.assign)
			r.Get("/observations", a.listObservations)
			r.Post("/observations", a.addObservation)
			r.Get("/images", a.listImages)
			r.Post("/images", a.addImage)
		})
	})
	r.Post("/collect", a.collect)
	r.Get("/closure", a.closure)
	r.Get("/customers/{id}/shipments", a.listOperational)
	r.Post("/customers/{id}/sync/{origin}", a.syncAll)
	r.Post("/webhooks/{origin}", a.handleWebhook)
	r.Get("/public/tracking/{token}", a.publicTracking)
	return r
}

func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

func pathID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(urlParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errs.Validation("id must be a positive integer")
	}
	return id, nil
}

func channelOr(v string, def models.ChangeOrigin) models.ChangeOrigin {
	c := models.ChangeOrigin(strings.ToUpper(strings.TrimSpace(v)))
	if !c.Valid() {
		return def
	}
	return c
}

func (a *API) createShipment(w http.ResponseWriter, r *http.Request) {
	var req createShipmentRequest
	if err := a.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	saleDate := req.SaleDate
	if saleDate.IsZero() {
		saleDate = a.lc.Now()
	}
	sh, err := a.lc.Create(r.Context(), lifecycle.CreateRequest{
		CustomerID: req.CustomerID,
		Tracking:   req.Tracking,
		SaleDate:   saleDate,
		Recipient: models.Recipient{
			Name:    req.Recipient.Name,
			Address: req.Recipient.Address,
			Phone:   req.Recipient.Phone,
			Email:   req.Recipient.Email,
		},
		Zone:            req.Zone,
		AmountToCollect: req.AmountToCollect,
		Weight:          req.Weight,
		Description:     req.Description,
		ShippingMethod:  req.ShippingMethod,
		Actor:           req.Actor,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toShipmentDTO(sh))
}

func (a *API) getShipment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sh, err := a.lc.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentDTO(sh))
}

func (a *API) deleteShipment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	actor := strings.TrimSpace(r.URL.Query().Get("actor"))
	if actor == "" {
		writeError(w, r, errs.Validation("actor is required"))
		return
	}
	if err := a.lc.Delete(r.Context(), id, actor, channelOr(r.URL.Query().Get("channel"), models.ChangeOriginWeb)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h, err := a.lc.History(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryDTOs(h))
}

func (a *API) transition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req transitionRequest
	if err := a.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	to, ok := models.ParseStatus(req.Status)
	if !ok {
		writeError(w, r, errs.Validation("unknown status %q", req.Status))
		return
	}
	tr := lifecycle.TransitionRequest{
		To:     to,
		Actor:  req.Actor,
		Note:   req.Note,
		Origin: channelOr(req.Channel, models.ChangeOriginWeb),
	}
	if req.Proof != nil {
		tr.Proof = &models.ProofOfDelivery{Role: req.Proof.Role, Name: req.Proof.Name, DocumentID: req.Proof.DocumentID}
	}
	sh, err := a.lc.Transition(r.Context(), id, tr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentDTO(sh))
}

func (a *API) assign(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req assignRequest
	if err := a.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sh, err := a.lc.Assign(r.Context(), id, lifecycle.AssignRequest{
		DriverID:   req.DriverID,
		DriverName: req.DriverName,
		AssignedBy: req.AssignedBy,
		Channel:    channelOr(req.Channel, models.ChangeOriginWeb),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentDTO(sh))
}

func (a *API) listObservations(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	obs, err := a.lc.Observations(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]observationDTO, 0, len(obs))
	for _, o := range obs {
		out = append(out, toObservationDTO(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) addObservation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req observationRequest
	if err := a.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := a.lc.AddObservation(r.Context(), id, req.Actor, req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toObservationDTO(o))
}

func (a *API) listImages(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	imgs, err := a.lc.Images(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]imageDTO, 0, len(imgs))
	for _, img := range imgs {
		out = append(out, toImageDTO(img))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) addImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req imageRequest
	if err := a.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	img, err := a.lc.AddImage(r.Context(), id, lifecycle.ImageRequest{
		Actor:       req.Actor,
		Category:    models.ImageCategory(req.Category),
		Ref:         req.Ref,
		Body:        req.Content,
		ContentType: req.ContentType,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toImageDTO(img))
}

func (a *API) collect(w http.ResponseWriter, r *http.Request) {
	var req collectRequest
	if err := a.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sh, err := a.col.Collect(r.Context(), req.QRData, req.Actor, channelOr(req.Channel, models.ChangeOriginApp))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentDTO(sh))
}

func (a *API) closure(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	day, err := a.col.ParseDay(q.Get("date"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	soloFlex := false
	if v := q.Get("soloFlex"); v != "" {
		if soloFlex, err = strconv.ParseBool(v); err != nil {
			writeError(w, r, errs.Validation("soloFlex must be a boolean"))
			return
		}
	}
	rows, err := a.col.Closure(r.Context(), day, soloFlex)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := closureDTO{Date: day.In(a.col.Location()).Format(time.DateOnly), SoloFlex: soloFlex, Drivers: rows}
	if out.Drivers == nil {
		out.Drivers = []models.ClosureRow{}
	}
	for _, row := range rows {
		out.Total += row.Count
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) listOperational(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := a.list.ListOperational(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentDTOs(list))
}

func (a *API) syncAll(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	origin, ok := models.ParseOrigin(urlParam(r, "origin"))
	if !ok || !origin.External() {
		writeError(w, r, errs.Validation("unknown origin %q", urlParam(r, "origin")))
		return
	}
	sum, err := a.rec.SyncAll(r.Context(), id, origin)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *API) publicTracking(w http.ResponseWriter, r *http.Request) {
	v, err := a.pub.Get(r.Context(), urlParam(r, "token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
