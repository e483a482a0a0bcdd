package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

type mapStorage struct {
	mu     sync.Mutex
	values map[string]string
	fail   bool
}

func newMapStorage() *mapStorage {
	return &mapStorage{values: make(map[string]string)}
}

func (m *mapStorage) Preference(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return "", false, errors.New("storage down")
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *mapStorage) SetPreference(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("storage down")
	}
	m.values[key] = value
	return nil
}

func TestDeviceIDIsStable(t *testing.T) {
	storage := newMapStorage()
	p := NewProvider(storage, nil)

	first := p.DeviceID()
	if first == "" {
		t.Fatalf("expected device id")
	}
	if second := p.DeviceID(); second != first {
		t.Fatalf("device id changed: %s vs %s", first, second)
	}

	// A fresh provider over the same storage sees the persisted id.
	if again := NewProvider(storage, nil).DeviceID(); again != first {
		t.Fatalf("expected persisted id %s, got %s", first, again)
	}
}

func TestDeviceIDRegeneratedOnceAfterWipe(t *testing.T) {
	before := NewProvider(newMapStorage(), nil).DeviceID()

	wiped := newMapStorage()
	p := NewProvider(wiped, nil)
	after := p.DeviceID()
	if after == before {
		t.Fatalf("expected a new id after wipe")
	}
	if wiped.values[deviceIDKey] != after {
		t.Fatalf("expected new id persisted")
	}
	if p.DeviceID() != after {
		t.Fatalf("expected id generated exactly once")
	}
}

func TestDeviceIDStableWhenStorageFails(t *testing.T) {
	storage := newMapStorage()
	storage.fail = true
	p := NewProvider(storage, nil)
	if p.DeviceID() != p.DeviceID() {
		t.Fatalf("expected in-memory id to stay stable")
	}
}

func TestNicknameDefaultAndOverride(t *testing.T) {
	p := NewProvider(newMapStorage(), nil)
	id := p.DeviceID()

	if got, want := p.Nickname(), "Student_"+id[:6]; got != want {
		t.Fatalf("default nickname: got %s want %s", got, want)
	}

	p.SetNickname("Asha")
	if got := p.Nickname(); got != "Asha" {
		t.Fatalf("expected Asha, got %s", got)
	}
}

func TestRoomCodeShape(t *testing.T) {
	for i := 0; i < 1000; i++ {
		code := GenerateRoomCode()
		if len(code) != RoomCodeLength {
			t.Fatalf("expected length %d, got %q", RoomCodeLength, code)
		}
		for _, r := range code {
			if !strings.ContainsRune(RoomCodeAlphabet, r) {
				t.Fatalf("symbol %q outside alphabet in %q", r, code)
			}
		}
	}
}

func TestRoomCodeDistribution(t *testing.T) {
	const n = 10000
	seen := make(map[string]struct{}, n)
	counts := make(map[rune]int)
	collisions := 0
	for i := 0; i < n; i++ {
		code := GenerateRoomCode()
		if _, ok := seen[code]; ok {
			collisions++
		}
		seen[code] = struct{}{}
		for _, r := range code {
			counts[r]++
		}
	}
	// Expected collisions across 2^30 codes is well below one.
	if collisions > 3 {
		t.Fatalf("too many collisions: %d", collisions)
	}

	expected := float64(n*RoomCodeLength) / float64(len(RoomCodeAlphabet))
	chi := 0.0
	for _, r := range RoomCodeAlphabet {
		d := float64(counts[r]) - expected
		chi += d * d / expected
	}
	// 31 degrees of freedom; 100 is far beyond any plausible uniform draw.
	if chi > 100 {
		t.Fatalf("symbol distribution looks biased: chi-square %.1f", chi)
	}
}

func TestShuffleDoesNotMutate(t *testing.T) {
	in := []int{1, 2, 3, 4, 5, 6, 7, 8}
	out := Shuffle(in)
	for i, v := range in {
		if v != i+1 {
			t.Fatalf("input mutated: %v", in)
		}
	}
	if len(out) != len(in) {
		t.Fatalf("length changed")
	}
	sum := 0
	for _, v := range out {
		sum += v
	}
	if sum != 36 {
		t.Fatalf("expected a permutation, got %v", out)
	}
}

func TestHelpers(t *testing.T) {
	if got := FormatDuration(125); got != "2:05" {
		t.Fatalf("format: %s", got)
	}
	if got := ScorePercent(2, 3); got != 67 {
		t.Fatalf("percent: %d", got)
	}
	if got := ScorePercent(1, 0); got != 0 {
		t.Fatalf("percent zero total: %d", got)
	}
	if DifficultyLabel(4) != "Very Hard" || DifficultyLabel(9) != "Unknown" {
		t.Fatalf("difficulty labels")
	}
}
