package cache

import (
	"errors"
	"testing"
)

func TestValidateKey(t *testing.T) {
	valid := []string{"a", "user_42", "session.token", "A1.b2_c3"}
	for _, k := range valid {
		if err := validateKey(k, strictKeyPattern); err != nil {
			t.Fatalf("expected %q to be valid: %v", k, err)
		}
	}

	invalid := []string{"", "has space", "slash/key", "tab\tkey", "emoji✓"}
	for _, k := range invalid {
		err := validateKey(k, strictKeyPattern)
		if err == nil {
			t.Fatalf("expected %q to be rejected", k)
		}
		var ike *InvalidKeyError
		if !errors.As(err, &ike) {
			t.Fatalf("expected *InvalidKeyError for %q, got %T", k, err)
		}
	}
}

func TestValidateKey_WideCharset(t *testing.T) {
	// Colon and hyphen are namespace separators on the wide charset only.
	for _, k := range []string{"ns:item", "multi-part-key", "a:b-c.d_e"} {
		if err := validateKey(k, wideKeyPattern); err != nil {
			t.Fatalf("expected %q valid on wide charset: %v", k, err)
		}
		if err := validateKey(k, strictKeyPattern); err == nil {
			t.Fatalf("expected %q rejected on strict charset", k)
		}
	}
}

func TestValidateKeys_Deduplicates(t *testing.T) {
	keys, err := validateKeys([]string{"a", "a", "b", "a", "c", "b"}, strictKeyPattern)
	if err != nil {
		t.Fatalf("validateKeys failed: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("expected %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, keys)
		}
	}
}

func TestValidateKeys_FailsBeforeAnyWork(t *testing.T) {
	_, err := validateKeys([]string{"ok", "bad key", "also_ok"}, strictKeyPattern)
	if err == nil {
		t.Fatal("expected validation error")
	}
	var ike *InvalidKeyError
	if !errors.As(err, &ike) {
		t.Fatalf("expected *InvalidKeyError, got %T", err)
	}
}
