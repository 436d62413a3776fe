package shipments_api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/BearBump/ShipBox/internal/errs"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

type errorResponse struct {
	Error   string        `json:"error"`
	Kind    string        `json:"kind,omitempty"`
	Details []fieldDetail `json:"details,omitempty"`
}

type fieldDetail struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// В ошибках показываем имена полей как в JSON.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps error kinds onto HTTP codes.
func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindInvalidTransition, errs.KindDuplicateAmbiguous, errs.KindConflictOnInsert:
		return http.StatusConflict
	case errs.KindMissingProofOfDelivery, errs.KindNormalization:
		return http.StatusUnprocessableEntity
	case errs.KindExternalFetch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		resp := errorResponse{Error: "request validation failed", Kind: errs.KindValidation.String()}
		for _, fe := range verrs {
			resp.Details = append(resp.Details, fieldDetail{Field: fieldPath(fe), Rule: fe.Tag()})
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	kind := errs.KindOf(err)
	code := statusFor(kind)
	if code == http.StatusInternalServerError {
		slog.Error("handle request", "method", r.Method, "path", r.URL.Path, "error", err.Error())
		writeJSON(w, code, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, code, errorResponse{Error: err.Error(), Kind: kind.String()})
}

// fieldPath drops the request type name: "recipient.name", not
// "createShipmentRequest.recipient.name".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// decode reads a JSON body into dst and validates it.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, a.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.Validation("malformed request body: %v", err)
	}
	return a.validate.Struct(dst)
}
