package ngconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMasterKeyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	k, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := SaveMasterKey(dir, k); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadMasterKey(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != k {
		t.Fatalf("round trip mismatch")
	}
}

func TestDeriveSubkeysIsDeterministic(t *testing.T) {
	k, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	a := DeriveSubkeys(k)
	b := DeriveSubkeys(k)
	if string(a.PeerID) != string(b.PeerID) {
		t.Fatalf("PeerID subkey not deterministic")
	}
	if a.Wallet != b.Wallet {
		t.Fatalf("Wallet subkey not deterministic")
	}
	if string(a.ConfigSign) != string(b.ConfigSign) {
		t.Fatalf("ConfigSign subkey not deterministic")
	}
	if string(a.PeerID) == string(a.Wallet[:]) {
		t.Fatalf("PeerID and Wallet subkeys must not collide")
	}
}

func TestClientConfigSaveLoadAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	cfg := &ClientConfig{ServerIP: "203.0.113.1", ServerPort: 1234, ServerPeerID: "peer-a", UserPrivKey: "file-key"}
	if err := SaveClientConfig(dir, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := LoadClientConfig(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ServerIP != cfg.ServerIP || got.UserPrivKey != "file-key" {
		t.Fatalf("loaded config mismatch: %+v", got)
	}

	t.Setenv("NG_CLIENT_USER", "env-key")
	t.Setenv("NG_CLIENT_SERVER", "198.51.100.2,4242,peer-b")
	got2, err := LoadClientConfig(dir)
	if err != nil {
		t.Fatalf("load with env: %v", err)
	}
	if got2.UserPrivKey != "env-key" {
		t.Fatalf("expected NG_CLIENT_USER to override file value, got %q", got2.UserPrivKey)
	}
	if got2.ServerIP != "198.51.100.2" || got2.ServerPort != 4242 || got2.ServerPeerID != "peer-b" {
		t.Fatalf("expected NG_CLIENT_SERVER to override server address, got %+v", got2)
	}
}

func TestSignProofWritesVerifiableFile(t *testing.T) {
	dir := t.TempDir()
	k, _ := GenerateMasterKey()
	sub := DeriveSubkeys(k)
	if err := WriteSignProof(dir, sub); err != nil {
		t.Fatalf("write sign proof: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, signProofFile)); err != nil {
		t.Fatalf("sign file not written: %v", err)
	}
}
