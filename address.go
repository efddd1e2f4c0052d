package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// checkPayoutIdentity does a local sanity check of the login identity for
// the configured algorithm. Pools accept account names as well as
// addresses, so callers log the result instead of refusing to start.
func checkPayoutIdentity(algorithm, identity string) error {
	identity = strings.TrimSpace(identity)
	if len(identity) < 3 {
		return errors.New("identity is empty or too short")
	}
	// account.worker names are never addresses.
	addr, _, _ := strings.Cut(identity, ".")

	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "sha256":
		if looksLikeMoneroAddress(addr) {
			return fmt.Errorf("identity looks like a Monero address, not a Bitcoin one")
		}
		if strings.Contains(identity, ".") && !looksLikeBitcoinAddress(addr) {
			return nil
		}
		return checkBitcoinAddress(addr, &chaincfg.MainNetParams)
	case "randomx", "rx/0", "":
		if !looksLikeMoneroAddress(addr) {
			return fmt.Errorf("identity does not look like a Monero address")
		}
	}
	return nil
}

// checkBitcoinAddress decodes a base58 or bech32 address and checks that it
// belongs to params.
func checkBitcoinAddress(addr string, params *chaincfg.Params) error {
	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return fmt.Errorf("decode address: %w", err)
	}
	if !decoded.IsForNet(params) {
		return fmt.Errorf("address %s is not valid for %s", addr, params.Name)
	}
	return nil
}

func looksLikeBitcoinAddress(s string) bool {
	if len(s) < 26 || len(s) > 90 {
		return false
	}
	return strings.HasPrefix(s, "1") || strings.HasPrefix(s, "3") || strings.HasPrefix(strings.ToLower(s), "bc1")
}

// Standard Monero addresses are 95 characters, integrated ones 106, both
// starting with 4 or 8.
func looksLikeMoneroAddress(s string) bool {
	if len(s) < 90 || len(s) > 110 {
		return false
	}
	return s[0] == '4' || s[0] == '8'
}
