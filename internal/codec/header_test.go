package codec

import (
	"errors"
	"testing"
)

func TestLayoutFor_UnknownVersionFailsLoudly(t *testing.T) {
	_, err := LayoutFor(0xEE)
	if !errors.Is(err, ErrCacheRejected) {
		t.Fatalf("unknown format version must be ErrCacheRejected, got %v", err)
	}
}

func TestOverrideLayout_RegistersNewVersion(t *testing.T) {
	custom := HeaderLayout{
		HeaderSize:          32,
		VersionOffset:       4,
		FlagsOffset:         5,
		RejectedOffset:      7,
		EngineTagOffset:     8,
		SourceLengthOffset:  16,
		PayloadLengthOffset: 20,
		ChecksumOffset:      24,
	}
	OverrideLayout(0x7F, custom)
	t.Cleanup(func() {
		layoutMu.Lock()
		delete(layouts, 0x7F)
		layoutMu.Unlock()
	})

	got, err := LayoutFor(0x7F)
	if err != nil {
		t.Fatalf("LayoutFor failed after override: %v", err)
	}
	if got != custom {
		t.Errorf("layout: got %+v, want %+v", got, custom)
	}
}

func TestCompile_ConcurrentWithLayoutOverride(t *testing.T) {
	custom := HeaderLayout{
		HeaderSize:          28,
		VersionOffset:       4,
		FlagsOffset:         5,
		RejectedOffset:      6,
		EngineTagOffset:     8,
		SourceLengthOffset:  12,
		PayloadLengthOffset: 16,
		ChecksumOffset:      20,
	}
	t.Cleanup(func() {
		layoutMu.Lock()
		delete(layouts, 0x7E)
		layoutMu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			OverrideLayout(0x7E, custom)
		}
	}()
	eng := &fakeEngine{}
	for i := 0; i < 200; i++ {
		if _, err := Compile(eng, "1;", Options{}); err != nil {
			t.Errorf("Compile failed: %v", err)
			break
		}
	}
	<-done
}

func TestDummyLength_Alignment(t *testing.T) {
	cases := []struct {
		in   uint32
		want uint32
	}{
		{0, 0},
		{1, 16},
		{15, 16},
		{16, 16},
		{17, 32},
		{100, 112},
	}
	for _, c := range cases {
		if got := dummyLength(c.in); got != c.want {
			t.Errorf("dummyLength(%d): got %d, want %d", c.in, got, c.want)
		}
	}
}
