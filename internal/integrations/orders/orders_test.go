package orders

import (
	"context"
	"testing"

	"github.com/BearBump/ShipBox/internal/errs"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/stretchr/testify/require"
)

func TestStaticTokens(t *testing.T) {
	p := NewStaticTokens([]Token{{CustomerID: 3, Origin: models.OriginShopify, AccessToken: "shp", StoreID: "s3"}})

	tok, err := p.Token(context.Background(), 3, models.OriginShopify)
	require.NoError(t, err)
	require.Equal(t, "shp", tok.AccessToken)

	_, err = p.Token(context.Background(), 3, models.OriginVTEX)
	require.ErrorIs(t, err, errs.ErrExternalFetch)
}
