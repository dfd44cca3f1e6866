// Package machines scans the host inventory with ssh-keyscan and tracks SSH
// key fingerprints over time, flagging any host whose fingerprint changes.
package machines

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apache/infrastructure-reporting-dashboard/errors"
)

const (
	// ScanInterval paces fingerprint scans; keyscanning the whole fleet is
	// slow and fingerprints rarely change.
	ScanInterval = 43200 * time.Second

	keyscanTimeout = 10 * time.Second
)

// KeyscanFunc fetches one public key line for a host, in authorized_keys
// format. An empty result means the host did not answer.
type KeyscanFunc func(ctx context.Context, host, keyType string) (string, error)

// execKeyscan shells out to ssh-keyscan the way an operator would.
func execKeyscan(ctx context.Context, host, keyType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, keyscanTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "ssh-keyscan", "-T", "1", "-4", "-t", keyType, host).Output()
	if err != nil {
		// ssh-keyscan exits non-zero for unreachable hosts; that is an
		// ordinary scan outcome, not an error.
		return "", nil
	}
	return strings.TrimSpace(string(out)), nil
}

// Record is the tracked state of one host.
type Record struct {
	IPv4             string   `json:"ipv4"`
	FingerprintECDSA string   `json:"fingerprint_ecdsa"`
	FingerprintRSA   string   `json:"fingerprint_rsa"`
	FirstSeen        int64    `json:"first_seen"`
	LastSeen         int64    `json:"last_seen"`
	Okay             bool     `json:"okay"`
	Notes            []string `json:"notes"`
}

// Changes summarizes fingerprint changes observed since startup.
type Changes struct {
	Changed int      `json:"changed"`
	Notes   []string `json:"notes"`
}

// Report is the scan result served to callers.
type Report struct {
	Hosts       map[string]*Record `json:"hosts"`
	Changes     Changes            `json:"changes"`
	Reachable   int                `json:"reachable"`
	Unreachable []string           `json:"unreachable"`
	ScannedAt   int64              `json:"scanned_at"`
}

// Scanner keyscans the inventory and tracks fingerprints across scans.
type Scanner struct {
	ipDataURL   string
	domain      string
	ignoreHosts []string
	keyscan     KeyscanFunc
	httpClient  *http.Client
	logger      *slog.Logger
	clock       func() time.Time

	mu     sync.RWMutex
	hosts  map[string]*Record
	report Report
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithKeyscan overrides the keyscan implementation, mainly for tests.
func WithKeyscan(fn KeyscanFunc) Option {
	return func(s *Scanner) { s.keyscan = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) { s.logger = logger }
}

// NewScanner creates a fingerprint scanner. ipDataURL serves a JSON map of
// IP address to host name; ignoreHosts are glob patterns for hosts that must
// not be scanned.
func NewScanner(ipDataURL, domain string, ignoreHosts []string, options ...Option) *Scanner {
	s := &Scanner{
		ipDataURL:   ipDataURL,
		domain:      domain,
		ignoreHosts: ignoreHosts,
		keyscan:     execKeyscan,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      slog.Default(),
		clock:       time.Now,
		hosts:       make(map[string]*Record),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Report returns the latest scan result.
func (s *Scanner) Report() Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report
}

// Scan keyscans every non-ignored host from the IP data map, updating the
// tracked records and the published report.
func (s *Scanner) Scan(ctx context.Context) error {
	ipData, err := s.fetchIPData(ctx)
	if err != nil {
		return err
	}

	hostIPs := make(map[string][]string)
	for ip, name := range ipData {
		hostIPs[name] = append(hostIPs[name], ip)
	}
	names := make([]string, 0, len(hostIPs))
	for name := range hostIPs {
		if !s.ignored(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var reachable int
	var unreachable []string
	var allNotes []string
	now := s.clock().Unix()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fqdn := name + "." + s.domain
		rsaFP, err := s.scanFingerprint(ctx, fqdn, "rsa")
		if err != nil || rsaFP == "" {
			unreachable = append(unreachable, name)
			continue
		}
		ecdsaFP, _ := s.scanFingerprint(ctx, fqdn, "ecdsa")
		reachable++

		record, known := s.hosts[name]
		if !known {
			s.hosts[name] = &Record{
				IPv4:             firstIPv4(hostIPs[name]),
				FingerprintRSA:   rsaFP,
				FingerprintECDSA: ecdsaFP,
				FirstSeen:        now,
				LastSeen:         now,
				Okay:             true,
				Notes:            []string{},
			}
			continue
		}
		record.LastSeen = now
		if record.FingerprintRSA != rsaFP {
			note := fmt.Sprintf("Fingerprint of %s changed at %s, from %s to %s!",
				name, time.Unix(now, 0).UTC().Format(time.ANSIC), record.FingerprintRSA, rsaFP)
			record.Okay = false
			record.Notes = append(record.Notes, note)
			allNotes = append(allNotes, note)
			s.logger.Warn("Host fingerprint changed", "host", name, "old", record.FingerprintRSA, "new", rsaFP)
		}
	}

	s.report = Report{
		Hosts:       s.hosts,
		Changes:     Changes{Changed: len(allNotes), Notes: allNotes},
		Reachable:   reachable,
		Unreachable: unreachable,
		ScannedAt:   now,
	}
	return nil
}

// scanFingerprint keyscans one key type and returns its SHA256 fingerprint,
// or empty when the host did not answer.
func (s *Scanner) scanFingerprint(ctx context.Context, host, keyType string) (string, error) {
	line, err := s.keyscan(ctx, host, keyType)
	if err != nil {
		return "", err
	}
	if line == "" {
		return "", nil
	}
	return fingerprintSHA256(line)
}

// fingerprintSHA256 converts an authorized_keys style line to the OpenSSH
// SHA256 fingerprint form (unpadded base64).
func fingerprintSHA256(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", errors.WrapInvalid(errors.ErrInvalidData, "machines", "fingerprintSHA256", "parse key line")
	}
	key, err := base64.StdEncoding.DecodeString(fields[len(fields)-1])
	if err != nil {
		return "", errors.WrapInvalid(err, "machines", "fingerprintSHA256", "decode public key")
	}
	digest := sha256.Sum256(key)
	return strings.TrimRight(base64.StdEncoding.EncodeToString(digest[:]), "="), nil
}

func (s *Scanner) ignored(name string) bool {
	for _, pattern := range s.ignoreHosts {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func (s *Scanner) fetchIPData(ctx context.Context) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.ipDataURL, nil)
	if err != nil {
		return nil, errors.WrapInvalid(err, "machines", "fetchIPData", "build request")
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "machines", "fetchIPData", "fetch ip data")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.WrapTransient(
			fmt.Errorf("ip data returned status %d", resp.StatusCode),
			"machines", "fetchIPData", "fetch ip data")
	}

	var ipData map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&ipData); err != nil {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed, "machines", "fetchIPData", "decode ip data")
	}
	return ipData, nil
}

func firstIPv4(ips []string) string {
	sort.Strings(ips)
	for _, ip := range ips {
		if strings.Contains(ip, ".") {
			return ip
		}
	}
	return ""
}
