package rest

import (
	"net/url"
	"strings"
	"testing"
)

// Vector from the venue's API documentation.
const (
	docSecret = "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	docQuery  = "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	docSig    = "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71"
)

func TestSignMatchesDocumentedVector(t *testing.T) {
	if got := sign(docSecret, docQuery); got != docSig {
		t.Fatalf("expected %s, got %s", docSig, got)
	}
}

func TestSignedQuerySortsAndAppendsSignatureLast(t *testing.T) {
	params := url.Values{}
	params.Set("symbol", "ETHUSDT")
	params.Set("side", "BUY")
	params.Set("timestamp", "1700000000000")
	query := signedQuery(params, "secret")

	wantPrefix := "side=BUY&symbol=ETHUSDT&timestamp=1700000000000&signature="
	if !strings.HasPrefix(query, wantPrefix) {
		t.Fatalf("expected sorted query with trailing signature, got %q", query)
	}
	sig := strings.TrimPrefix(query, wantPrefix)
	if len(sig) != 64 {
		t.Fatalf("expected 64 hex chars of signature, got %q", sig)
	}
	if want := sign("secret", "side=BUY&symbol=ETHUSDT&timestamp=1700000000000"); sig != want {
		t.Fatalf("signature does not cover the encoded query: got %s want %s", sig, want)
	}
}
