package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/nextgraph-org/ng-verifier-core/pkg/ngconfig"
)

// resolveMasterKey honors NG_CLIENT_KEY / -k over the base directory's
// persisted key file, generating and optionally saving a fresh one if
// neither is present (spec section 6).
func resolveMasterKey() (ngconfig.MasterKey, error) {
	if raw := os.Getenv("NG_CLIENT_KEY"); raw != "" {
		decoded, err := base64.RawURLEncoding.DecodeString(raw)
		if err != nil || len(decoded) != 32 {
			return ngconfig.MasterKey{}, fmt.Errorf("NG_CLIENT_KEY: not a valid base64url 32-byte key")
		}
		var k ngconfig.MasterKey
		copy(k[:], decoded)
		return k, nil
	}

	if k, err := ngconfig.LoadMasterKey(baseDir); err == nil {
		return k, nil
	}

	k, err := ngconfig.GenerateMasterKey()
	if err != nil {
		return ngconfig.MasterKey{}, fmt.Errorf("generate master key: %w", err)
	}
	if saveKey {
		if err := ngconfig.SaveMasterKey(baseDir, k); err != nil {
			return ngconfig.MasterKey{}, fmt.Errorf("save master key: %w", err)
		}
	}
	return k, nil
}
