package connectivity

import (
	"context"
	"errors"
	"sync"
)

// SimRadio is an in-memory radio for development hosts and tests. It links
// after LinkAfterPolls status polls when the joined SSID is in Networks.
type SimRadio struct {
	mu sync.Mutex

	HWID           string
	Networks       map[string]string // ssid -> secret
	LinkAfterPolls int
	StationAddr    string
	APAddr         string
	APErr          error

	joins    []JoinRequest
	joined   *JoinRequest
	polls    int
	apSSID   string
	leaveCnt int
}

func NewSimRadio(hwid string) *SimRadio {
	return &SimRadio{
		HWID:        hwid,
		Networks:    map[string]string{},
		StationAddr: "192.168.1.50",
		APAddr:      "192.168.4.1",
	}
}

func (s *SimRadio) Join(_ context.Context, req JoinRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joins = append(s.joins, req)
	s.joined = &req
	s.polls = 0
	return nil
}

func (s *SimRadio) Linked(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joined == nil {
		return false, nil
	}
	secret, ok := s.Networks[s.joined.SSID]
	if !ok || secret != s.joined.Secret {
		return false, nil
	}
	s.polls++
	return s.polls > s.LinkAfterPolls, nil
}

func (s *SimRadio) Address(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.apSSID != "" {
		return s.APAddr, nil
	}
	return s.StationAddr, nil
}

func (s *SimRadio) Leave(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined = nil
	s.leaveCnt++
	return nil
}

func (s *SimRadio) StartAccessPoint(_ context.Context, ssid, secret string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.APErr != nil {
		return "", s.APErr
	}
	if len(secret) < 8 {
		return "", errors.New("sim: wpa2 passphrase too short")
	}
	s.apSSID = ssid
	return s.APAddr, nil
}

func (s *SimRadio) HardwareID() (string, error) {
	if s.HWID == "" {
		return "", errors.New("sim: no hardware id")
	}
	return s.HWID, nil
}

// Joins returns the join requests seen so far.
func (s *SimRadio) Joins() []JoinRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]JoinRequest(nil), s.joins...)
}

// AccessPoint returns the SSID being broadcast, if any.
func (s *SimRadio) AccessPoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apSSID
}
