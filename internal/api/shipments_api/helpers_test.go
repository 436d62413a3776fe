package shipments_api

import (
	"errors"
	"strconv"

	"github.com/BearBump/ShipBox/internal/errs"
)

func itoa(id uint64) string { return strconv.FormatUint(id, 10) }

func errExternal() error {
	return errs.ExternalFetch(errors.New("http 503"), "fetch shipment")
}
