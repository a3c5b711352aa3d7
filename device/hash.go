// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package device

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
)

// Hasher turns a device password into the representation the consuming
// service verifies it against.
type Hasher interface {
	Scheme() string
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

var schemes = map[string]func(rnd io.Reader) Hasher{
	"plaintext":            func(io.Reader) Hasher { return plaintext{} },
	"hex_sha256":           func(io.Reader) Hasher { return hexDigest{"hex_sha256", sha256.New} },
	"hex_sha512":           func(io.Reader) Hasher { return hexDigest{"hex_sha512", sha512.New} },
	"ldap_salted_sha256":   func(r io.Reader) Hasher { return ldapSalted{"ldap_salted_sha256", "{SSHA256}", sha256.New, r} },
	"ldap_salted_sha512":   func(r io.Reader) Hasher { return ldapSalted{"ldap_salted_sha512", "{SSHA512}", sha512.New, r} },
	"bcrypt":               func(io.Reader) Hasher { return bcryptHasher{cost: 12} },
	"scrypt":               func(r io.Reader) Hasher { return scryptHasher{logN: 16, r: 8, p: 1, rand: r} },
	"argon2":               func(r io.Reader) Hasher { return argon2Hasher{memory: 64 * 1024, time: 3, threads: 4, rand: r} },
	"dovecot_scram_sha1":   func(r io.Reader) Hasher { return dovecotSCRAM{"dovecot_scram_sha1", "SHA-1", sha1.New, r} },
	"dovecot_scram_sha256": func(r io.Reader) Hasher { return dovecotSCRAM{"dovecot_scram_sha256", "SHA-256", sha256.New, r} },
}

// Schemes lists the supported hash schemes.
func Schemes() []string {
	names := make([]string, 0, len(schemes))
	for name := range schemes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type hasherOptions struct {
	withRand io.Reader
}

// NewHasher returns the Hasher for scheme.
// Supported options: WithRandReader
func NewHasher(scheme string, opt ...Option) (Hasher, error) {
	const op = "device.NewHasher"
	opts := hasherOptions{withRand: rand.Reader}
	ApplyOpts(&opts, opt...)
	fn, ok := schemes[scheme]
	if !ok {
		return nil, fmt.Errorf("%s: %q (supported: %s): %w", op, scheme, strings.Join(Schemes(), ", "), ErrUnknownScheme)
	}
	return fn(opts.withRand), nil
}

func salt(r io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("unable to read salt: %w", err)
	}
	return b, nil
}

type plaintext struct{}

func (plaintext) Scheme() string { return "plaintext" }

func (plaintext) Hash(password string) (string, error) { return password, nil }

func (plaintext) Verify(password, encoded string) (bool, error) {
	return subtle.ConstantTimeCompare([]byte(password), []byte(encoded)) == 1, nil
}

type hexDigest struct {
	name string
	new  func() hash.Hash
}

func (h hexDigest) Scheme() string { return h.name }

func (h hexDigest) Hash(password string) (string, error) {
	d := h.new()
	d.Write([]byte(password))
	return hex.EncodeToString(d.Sum(nil)), nil
}

func (h hexDigest) Verify(password, encoded string) (bool, error) {
	want, _ := h.Hash(password)
	return subtle.ConstantTimeCompare([]byte(want), []byte(strings.ToLower(encoded))) == 1, nil
}

// ldapSalted is {SSHAnnn}base64(digest(password + salt) + salt).
type ldapSalted struct {
	name   string
	prefix string
	new    func() hash.Hash
	rand   io.Reader
}

func (h ldapSalted) Scheme() string { return h.name }

func (h ldapSalted) Hash(password string) (string, error) {
	s, err := salt(h.rand, 8)
	if err != nil {
		return "", err
	}
	return h.encode(password, s), nil
}

func (h ldapSalted) encode(password string, s []byte) string {
	d := h.new()
	d.Write([]byte(password))
	d.Write(s)
	return h.prefix + base64.StdEncoding.EncodeToString(append(d.Sum(nil), s...))
}

func (h ldapSalted) Verify(password, encoded string) (bool, error) {
	raw, ok := strings.CutPrefix(encoded, h.prefix)
	if !ok {
		return false, ErrMalformedHash
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	size := h.new().Size()
	if err != nil || len(data) <= size {
		return false, ErrMalformedHash
	}
	return subtle.ConstantTimeCompare([]byte(h.encode(password, data[size:])), []byte(encoded)) == 1, nil
}

type bcryptHasher struct {
	cost int
}

func (bcryptHasher) Scheme() string { return "bcrypt" }

func (h bcryptHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (bcryptHasher) Verify(password, encoded string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %w", ErrMalformedHash, err)
	}
}

// scryptHasher is $scrypt$ln=L,r=R,p=P$salt$key with unpadded base64.
type scryptHasher struct {
	logN, r, p int
	rand       io.Reader
}

func (scryptHasher) Scheme() string { return "scrypt" }

func (h scryptHasher) Hash(password string) (string, error) {
	s, err := salt(h.rand, 16)
	if err != nil {
		return "", err
	}
	key, err := scrypt.Key([]byte(password), s, 1<<h.logN, h.r, h.p, 32)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("$scrypt$ln=%d,r=%d,p=%d$%s$%s", h.logN, h.r, h.p,
		base64.RawStdEncoding.EncodeToString(s), base64.RawStdEncoding.EncodeToString(key)), nil
}

func (scryptHasher) Verify(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[1] != "scrypt" {
		return false, ErrMalformedHash
	}
	var logN, r, p int
	if _, err := fmt.Sscanf(parts[2], "ln=%d,r=%d,p=%d", &logN, &r, &p); err != nil || logN < 1 || logN > 31 {
		return false, ErrMalformedHash
	}
	s, err1 := base64.RawStdEncoding.DecodeString(parts[3])
	want, err2 := base64.RawStdEncoding.DecodeString(parts[4])
	if err1 != nil || err2 != nil {
		return false, ErrMalformedHash
	}
	got, err := scrypt.Key([]byte(password), s, 1<<logN, r, p, len(want))
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrMalformedHash, err)
	}
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// argon2Hasher is the PHC string $argon2id$v=19$m=M,t=T,p=P$salt$key.
type argon2Hasher struct {
	memory  uint32
	time    uint32
	threads uint8
	rand    io.Reader
}

func (argon2Hasher) Scheme() string { return "argon2" }

func (h argon2Hasher) Hash(password string) (string, error) {
	s, err := salt(h.rand, 16)
	if err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), s, h.time, h.memory, h.threads, 32)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s", argon2.Version, h.memory, h.time, h.threads,
		base64.RawStdEncoding.EncodeToString(s), base64.RawStdEncoding.EncodeToString(key)), nil
}

func (argon2Hasher) Verify(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, ErrMalformedHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, ErrMalformedHash
	}
	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, ErrMalformedHash
	}
	s, err1 := base64.RawStdEncoding.DecodeString(parts[4])
	want, err2 := base64.RawStdEncoding.DecodeString(parts[5])
	if err1 != nil || err2 != nil || len(want) == 0 {
		return false, ErrMalformedHash
	}
	got := argon2.IDKey([]byte(password), s, time, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// dovecotSCRAM is Dovecot's SCRAM credential:
// {SCRAM-SHA-n}rounds,base64(salt),base64(stored key),base64(server key).
type dovecotSCRAM struct {
	name  string
	label string
	new   func() hash.Hash
	rand  io.Reader
}

const dovecotRounds = 200_000

func (h dovecotSCRAM) Scheme() string { return h.name }

func (h dovecotSCRAM) prefix() string { return "{SCRAM-" + h.label + "}" }

func (h dovecotSCRAM) Hash(password string) (string, error) {
	s, err := salt(h.rand, 16)
	if err != nil {
		return "", err
	}
	return h.encode(password, s, dovecotRounds), nil
}

func (h dovecotSCRAM) encode(password string, s []byte, rounds int) string {
	salted := pbkdf2.Key([]byte(password), s, rounds, h.new().Size(), h.new)
	clientKey := h.mac(salted, "Client Key")
	serverKey := h.mac(salted, "Server Key")
	stored := h.new()
	stored.Write(clientKey)
	return strings.Join([]string{
		h.prefix() + strconv.Itoa(rounds),
		base64.StdEncoding.EncodeToString(s),
		base64.StdEncoding.EncodeToString(stored.Sum(nil)),
		base64.StdEncoding.EncodeToString(serverKey),
	}, ",")
}

func (h dovecotSCRAM) mac(key []byte, msg string) []byte {
	m := hmac.New(h.new, key)
	m.Write([]byte(msg))
	return m.Sum(nil)
}

func (h dovecotSCRAM) Verify(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, ",")
	if len(parts) != 4 {
		return false, ErrMalformedHash
	}
	raw, ok := strings.CutPrefix(parts[0], h.prefix())
	if !ok {
		return false, ErrMalformedHash
	}
	rounds, err := strconv.Atoi(raw)
	if err != nil || rounds < 1 {
		return false, ErrMalformedHash
	}
	s, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false, ErrMalformedHash
	}
	got := h.encode(password, s, rounds)
	return subtle.ConstantTimeCompare([]byte(got), []byte(encoded)) == 1, nil
}
