package firestore

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestAccountIDSeparatesCostCenters(t *testing.T) {
	cases := map[string]struct {
		userID     int64
		costCenter string
		want       string
	}{
		"default cost center": {7, "", "7:_"},
		"named cost center":   {7, " sports ", "7:sports"},
		"slash is escaped":    {-42, "a/b", "-42:a_b"},
	}
	for name, tc := range cases {
		if got := accountID(tc.userID, tc.costCenter); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", name, tc.want, got)
		}
	}
	if sequenceID(12) != "000000000012" {
		t.Fatalf("unexpected sequence id %q", sequenceID(12))
	}
}

func TestMoneyDecoderKeepsFirstError(t *testing.T) {
	var dec moneyDecoder
	if v := dec.decode("price", "12.30"); !v.Equal(decimal.RequireFromString("12.3")) {
		t.Fatalf("unexpected value %s", v)
	}
	if v := dec.decode("tax", ""); !v.IsZero() || dec.err != nil {
		t.Fatalf("expected empty string to decode as zero")
	}
	dec.decode("fee", "abc")
	dec.decode("credits", "xyz")
	if dec.err == nil || dec.err.Error()[:9] != "field fee" {
		t.Fatalf("expected the first failing field to be reported, got %v", dec.err)
	}
	if encodeMoney(decimal.RequireFromString("-3.50")) != "-3.5" {
		t.Fatalf("unexpected encoding %q", encodeMoney(decimal.RequireFromString("-3.50")))
	}
}
