/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package mon

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/NVIDIA/radstore/cmn/cos"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// The handshake is challenge/response over the shared keyring secret:
//
//	client: auth(entity, client-challenge)
//	server: -EAGAIN, server-challenge
//	client: auth(entity, client-challenge, proof)
//	server: session ticket
//
// proof = HMAC-SHA256(secret, server-challenge || client-challenge).
// The ticket is an HS256 JWT signed with a service key derived from
// the cluster secret; the key rotates on a period and the previous one
// stays valid so ticket refresh never races rotation.

const (
	challengeLen  = 16
	serviceKeyLen = 32

	defaultTicketTTL      = 10 * time.Minute
	defaultRotationPeriod = time.Hour
)

func newChallenge() (string, error) {
	b := make([]byte, challengeLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func proofOf(secret []byte, serverChallenge, clientChallenge string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(serverChallenge))
	mac.Write([]byte(clientChallenge))
	return mac.Sum(nil)
}

func verifyProof(secret []byte, serverChallenge, clientChallenge string, proof []byte) bool {
	return hmac.Equal(proof, proofOf(secret, serverChallenge, clientChallenge))
}

// serviceKey derives the ticket-signing key for one rotation epoch.
// Derivation is deterministic, so no key state needs distributing.
func serviceKey(secret []byte, fsid string, keyEpoch uint64) []byte {
	info := fmt.Sprintf("mon-service-%d", keyEpoch)
	r := hkdf.New(sha256.New, secret, []byte(fsid), []byte(info))
	key := make([]byte, serviceKeyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		cos.AssertNoErr(err)
	}
	return key
}

func keyEpochAt(now time.Time, period time.Duration) uint64 {
	return uint64(now.UnixNano() / period.Nanoseconds())
}

type ticket struct {
	Entity   string    `json:"entity"`
	GlobalID uint64    `json:"global_id"`
	Caps     string    `json:"caps"`
	Expires  time.Time `json:"expires"`
}

func issueTicket(key []byte, tk *ticket) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"entity":    tk.Entity,
		"global_id": tk.GlobalID,
		"caps":      tk.Caps,
		"expires":   tk.Expires,
	})
	return t.SignedString(key)
}

func parseTicket(tokenStr string, key []byte) (*ticket, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, cos.ErrPermission
	}
	tk := &ticket{}
	if err := cos.MorphMarshal(claims, tk); err != nil {
		return nil, cos.ErrPermission
	}
	if time.Now().After(tk.Expires) {
		return nil, cos.ErrStale
	}
	return tk, nil
}
