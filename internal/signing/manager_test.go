package signing_test

import (
	"context"
	"testing"

	"github.com/shiftward/shiftward/internal/signing"
	"go.uber.org/zap"
)

var ctx = context.Background()

func newManager() *signing.Manager {
	return signing.NewManager(signing.NewMemoryKeyStore(), zap.NewNop())
}

func TestGenerate_firstKeyIsVersionOne(t *testing.T) {
	m := newManager()

	key, err := m.Generate(ctx, "tenant-1")
	if err != nil {
		t.Fatal(err)
	}
	if key.Version != 1 {
		t.Errorf("first key version: got %d, want 1", key.Version)
	}
	if !key.Active {
		t.Error("first key must be active")
	}
	if key.Algorithm != signing.AlgorithmEd25519 {
		t.Errorf("algorithm: got %q", key.Algorithm)
	}
	if len(key.Fingerprint) != 64 {
		t.Errorf("fingerprint: got %q, want 64-hex-char digest", key.Fingerprint)
	}
}

func TestRotate_retainsAllVersions(t *testing.T) {
	m := newManager()

	k1, err := m.Generate(ctx, "tenant-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Rotate(ctx, "tenant-1"); err != nil {
		t.Fatal(err)
	}
	k3, err := m.Rotate(ctx, "tenant-1")
	if err != nil {
		t.Fatal(err)
	}
	if k3.Version != 3 {
		t.Errorf("after two rotations: got version %d, want 3", k3.Version)
	}

	history, err := m.History(ctx, "tenant-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Fatalf("history: got %d keys, want 3", len(history))
	}
	// Newest first; only the newest is active.
	for i, k := range history {
		wantVersion := 3 - i
		wantActive := i == 0
		if k.Version != wantVersion || k.Active != wantActive {
			t.Errorf("history[%d]: version=%d active=%v, want version=%d active=%v",
				i, k.Version, k.Active, wantVersion, wantActive)
		}
	}

	// Retired version 1 is still exportable and its fingerprint is unchanged.
	export, err := m.ExportPublicKey(ctx, "tenant-1", 1)
	if err != nil {
		t.Fatalf("export retired key: %v", err)
	}
	if export.Fingerprint != k1.Fingerprint {
		t.Errorf("retired key fingerprint changed: got %q, want %q", export.Fingerprint, k1.Fingerprint)
	}
}

func TestRotate_unprovisionedTenant(t *testing.T) {
	m := newManager()
	if _, err := m.Rotate(ctx, "ghost"); err != signing.ErrNoActiveKey {
		t.Errorf("got %v, want ErrNoActiveKey", err)
	}
}

func TestSign_usesActiveKeyOnly(t *testing.T) {
	m := newManager()
	if _, err := m.Generate(ctx, "tenant-1"); err != nil {
		t.Fatal(err)
	}

	root := "c0ffee0000000000000000000000000000000000000000000000000000000000"
	sig, version, err := m.Sign(ctx, "tenant-1", root)
	if err != nil {
		t.Fatal(err)
	}
	if version != 1 {
		t.Errorf("key version: got %d, want 1", version)
	}

	export, err := m.ExportPublicKey(ctx, "tenant-1", version)
	if err != nil {
		t.Fatal(err)
	}
	pub, err := signing.ParsePublicKeyPEM(export.PublicKeyPEM)
	if err != nil {
		t.Fatal(err)
	}
	if !signing.Verify(pub, root, sig) {
		t.Error("signature failed to verify against exported public key")
	}
	mangled := []byte(sig)
	if mangled[0] == '0' {
		mangled[0] = '1'
	} else {
		mangled[0] = '0'
	}
	if signing.Verify(pub, root, string(mangled)) {
		t.Error("mangled signature must not verify")
	}
}

func TestSign_noActiveKey(t *testing.T) {
	m := newManager()
	if _, _, err := m.Sign(ctx, "ghost", "abc123"); err != signing.ErrNoActiveKey {
		t.Errorf("got %v, want ErrNoActiveKey", err)
	}
}

func TestSign_signatureSurvivesRotation(t *testing.T) {
	m := newManager()
	if _, err := m.Generate(ctx, "tenant-1"); err != nil {
		t.Fatal(err)
	}

	root := "deadbeef00000000000000000000000000000000000000000000000000000000"
	sig, version, err := m.Sign(ctx, "tenant-1", root)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if _, err := m.Rotate(ctx, "tenant-1"); err != nil {
			t.Fatal(err)
		}
	}

	// Verification against the historical version still succeeds.
	export, err := m.ExportPublicKey(ctx, "tenant-1", version)
	if err != nil {
		t.Fatal(err)
	}
	pub, err := signing.ParsePublicKeyPEM(export.PublicKeyPEM)
	if err != nil {
		t.Fatal(err)
	}
	if !signing.Verify(pub, root, sig) {
		t.Error("historical signature must verify after rotations")
	}
}

func TestExportPublicKey_activeByDefault(t *testing.T) {
	m := newManager()
	if _, err := m.Generate(ctx, "tenant-1"); err != nil {
		t.Fatal(err)
	}
	k2, err := m.Rotate(ctx, "tenant-1")
	if err != nil {
		t.Fatal(err)
	}

	export, err := m.ExportPublicKey(ctx, "tenant-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if export.Version != k2.Version {
		t.Errorf("default export version: got %d, want active %d", export.Version, k2.Version)
	}
}

func TestExportPublicKey_unknownVersion(t *testing.T) {
	m := newManager()
	if _, err := m.Generate(ctx, "tenant-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ExportPublicKey(ctx, "tenant-1", 9); err != signing.ErrVersionNotFound {
		t.Errorf("got %v, want ErrVersionNotFound", err)
	}
}
