package escrow

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
)

func TestValidateReference(t *testing.T) {
	cases := []struct {
		ref  string
		want error
	}{
		{"bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi", nil},
		{strings.Repeat("a", MaxReferenceLength), nil},
		{strings.Repeat("a", MaxReferenceLength+1), ErrInvalidReference},
		{"   ", ErrInvalidReference},
		{string([]byte{0xff, 0xfe}), ErrInvalidReference},
	}
	for _, tc := range cases {
		err := ValidateReference(tc.ref)
		if tc.want == nil && err != nil {
			t.Fatalf("reference %q rejected: %v", tc.ref, err)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Fatalf("reference %q: expected %v, got %v", tc.ref, tc.want, err)
		}
	}
}

func TestAgreementEncodingKeepsStatus(t *testing.T) {
	original := &Agreement{
		Reference:    "cid",
		Buyer:        newIdentity(t),
		Seller:       newIdentity(t),
		Amount:       1000,
		BuyerCounter: 4,
		Status:       StatusRefunded,
	}
	encoded, err := rlp.EncodeToBytes(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded := new(Agreement)
	if err := rlp.DecodeBytes(encoded, decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *decoded != *original {
		t.Fatalf("round trip mismatch: %+v != %+v", decoded, original)
	}
	if decoded.IsReleased() || !decoded.Settled() {
		t.Fatalf("unexpected lifecycle flags for %s", decoded.Status)
	}
}

func TestStatusText(t *testing.T) {
	raw, err := json.Marshal(struct{ S Status }{StatusReleased})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"S":"released"}` {
		t.Fatalf("unexpected json %s", raw)
	}
	var back struct{ S Status }
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.S != StatusReleased {
		t.Fatalf("unexpected status %s", back.S)
	}
	if _, err := ParseStatus("disputed"); err == nil {
		t.Fatalf("expected unknown status to fail")
	}
	if Status(9).Valid() {
		t.Fatalf("status 9 reported valid")
	}
}
