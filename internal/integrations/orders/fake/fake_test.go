package fake

import (
	"context"
	"testing"

	"github.com/BearBump/ShipBox/internal/errs"
	"github.com/BearBump/ShipBox/internal/integrations/orders"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/stretchr/testify/require"
)

func TestFetcher_FetchOrder(t *testing.T) {
	f := New()
	tok := orders.Token{Origin: models.OriginFlex}
	f.Put(models.OriginFlex, "A1", []byte(`{"id":1}`))

	raw, err := f.FetchOrder(context.Background(), tok, "A1")
	require.NoError(t, err)
	require.Equal(t, `{"id":1}`, string(raw))
	require.Equal(t, 1, f.Calls(models.OriginFlex, "A1"))

	_, err = f.FetchOrder(context.Background(), tok, "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)

	f.Fail(models.OriginFlex, "A1", errs.New(errs.KindExternalFetch, "down"))
	_, err = f.FetchOrder(context.Background(), tok, "A1")
	require.ErrorIs(t, err, errs.ErrExternalFetch)
}

func TestFetcher_FetchAllOrders(t *testing.T) {
	f := New()
	f.Put(models.OriginShopify, "2", []byte("b"))
	f.Put(models.OriginShopify, "1", []byte("a"))
	f.Put(models.OriginVTEX, "1", []byte("x"))

	raws, err := f.FetchAllOrders(context.Background(), orders.Token{Origin: models.OriginShopify})
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("a"), []byte("b")}, raws)
}
