package repository

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// decimalConv converts between decimal.Decimal and BSON Decimal128.
// The first failure sticks in err and later calls become no-ops.
type decimalConv struct {
	err error
}

func (c *decimalConv) to(d decimal.Decimal) primitive.Decimal128 {
	if c.err != nil {
		return primitive.Decimal128{}
	}
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		c.err = fmt.Errorf("failed to encode decimal %s: %w", d, err)
	}
	return v
}

func (c *decimalConv) toPtr(d *decimal.Decimal) *primitive.Decimal128 {
	if d == nil {
		return nil
	}
	v := c.to(*d)
	return &v
}

func (c *decimalConv) from(v primitive.Decimal128) decimal.Decimal {
	if c.err != nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		c.err = fmt.Errorf("failed to decode decimal %s: %w", v.String(), err)
		return decimal.Zero
	}
	return d
}

func (c *decimalConv) fromPtr(v *primitive.Decimal128) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := c.from(*v)
	return &d
}
