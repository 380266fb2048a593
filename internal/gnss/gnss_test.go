package gnss

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/banshee-data/roadway/internal/bus"
	"github.com/banshee-data/roadway/internal/messages"
	"github.com/banshee-data/roadway/internal/monitoring"
	"github.com/banshee-data/roadway/internal/testutil"
	"github.com/banshee-data/roadway/internal/timeutil"
)

const (
	ggaMunich  = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
	ggaSouthW  = "$GNGGA,000000,3345.000,S,15112.000,W,4,12,1.0,10.0,M,-2.0,M,,*7D"
	ggaNoFix   = "$GPGGA,123519,,,,,0,00,,,M,,M,,*6B"
	hdt        = "$GPHDT,274.07,T*03"
	rmc        = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A"
	badCsumHDT = "$GPHDT,274.07,T*04"
)

var t0 = time.Date(2024, 4, 2, 12, 35, 19, 0, time.UTC)

func TestParseSentence(t *testing.T) {
	s, err := ParseSentence(ggaMunich + "\r\n")
	require.NoError(t, err)
	assert.Equal(t, "GP", s.Talker)
	assert.Equal(t, "GGA", s.Type)
	assert.Len(t, s.Fields, 14)

	_, err = ParseSentence(badCsumHDT)
	assert.True(t, errors.Is(err, ErrChecksum))

	// Checksum is optional.
	s, err = ParseSentence("$GPHDT,90.0,T")
	require.NoError(t, err)
	assert.Equal(t, "HDT", s.Type)

	for _, bad := range []string{"GPHDT,1,T*00", "$GP*00", "$GPHDT,1,T*ZZ"} {
		_, err := ParseSentence(bad)
		assert.Error(t, err, bad)
	}
}

func TestDecode_GGA(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		status  messages.NavSatStatus
		lat     float64
		lon     float64
		alt     float64
		horzVar float64
	}{
		{"munich gps", ggaMunich, messages.StatusFix, 48.1173, 11.0 + 31.0/60, 592.3, 20.25},
		{"south west rtk", ggaSouthW, messages.StatusGBAS, -33.75, -151.2, 8.0, 25},
		{"no fix", ggaNoFix, messages.StatusNoFix, 0, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseSentence(tt.line)
			require.NoError(t, err)
			v, err := Decode(s, t0)
			require.NoError(t, err)
			fix, ok := v.(*messages.NavSatFix)
			require.True(t, ok, "got %T", v)

			assert.Equal(t, tt.status, fix.Status)
			assert.InDelta(t, tt.lat, fix.Latitude, 1e-9)
			assert.InDelta(t, tt.lon, fix.Longitude, 1e-9)
			assert.InDelta(t, tt.alt, fix.Altitude, 1e-9)
			assert.InDelta(t, tt.horzVar, fix.PositionCovariance[0], 1e-9)
			assert.InDelta(t, tt.horzVar, fix.PositionCovariance[4], 1e-9)
			assert.Equal(t, t0, fix.Header.Stamp)
			assert.NoError(t, fix.Validate())
		})
	}
}

func TestDecode_HDT(t *testing.T) {
	s, err := ParseSentence(hdt)
	require.NoError(t, err)
	v, err := Decode(s, t0)
	require.NoError(t, err)
	h, ok := v.(*messages.HeadingStamped)
	require.True(t, ok)
	assert.Equal(t, 274.07, h.Heading)
}

func TestDecode_Errors(t *testing.T) {
	s, err := ParseSentence(rmc)
	require.NoError(t, err)
	_, err = Decode(s, t0)
	assert.True(t, errors.Is(err, ErrUnsupported))

	for _, fields := range [][]string{
		{"1", "2"},
		{"123519", "48xx.0", "N", "01131.000", "E", "1", "08", "0.9", "545.4", "M", "46.9"},
		{"123519", "4807.038", "Q", "01131.000", "E", "1", "08", "0.9", "545.4", "M", "46.9"},
		{"123519", "4875.000", "N", "01131.000", "E", "1", "08", "0.9", "545.4", "M", "46.9"},
	} {
		_, err := Decode(Sentence{Talker: "GP", Type: "GGA", Fields: fields}, t0)
		assert.Error(t, err, "%v", fields)
	}
	_, err = Decode(Sentence{Talker: "GP", Type: "HDT", Fields: []string{""}}, t0)
	assert.Error(t, err)
}

func TestPortOptions(t *testing.T) {
	mode, err := PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{BaudRate: 9600, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}, mode)

	mode, err = PortOptions{BaudRate: 115200, StopBits: 2, Parity: "even"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 115200, mode.BaudRate)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)

	for _, bad := range []PortOptions{{DataBits: 9}, {StopBits: 3}, {Parity: "mark"}} {
		_, err := bad.SerialMode()
		assert.Error(t, err, "%+v", bad)
	}
}

type nopPort struct{ io.Reader }

func (nopPort) Close() error { return nil }

func TestReader_PublishesFixesAndHeadings(t *testing.T) {
	monitoring.SetLogger(t.Logf)
	defer monitoring.SetLogger(nil)

	b := bus.New(bus.WithBuffer(8))
	defer b.Close()
	_, fixes := b.Subscribe(messages.TopicNavSatFix)
	_, headings := b.Subscribe(messages.TopicHeading)

	input := strings.Join([]string{ggaMunich, "", "garbage", rmc, badCsumHDT, hdt, ggaSouthW}, "\r\n")
	r := NewReader(nopPort{strings.NewReader(input)}, b, timeutil.NewMockClock(t0))
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, Stats{Fixes: 2, Headings: 1, Unsupported: 1, Errors: 2}, r.Stats())

	first := (<-fixes).Payload.(*messages.NavSatFix)
	second := (<-fixes).Payload.(*messages.NavSatFix)
	assert.InDelta(t, 48.1173, first.Latitude, 1e-9)
	assert.InDelta(t, -33.75, second.Latitude, 1e-9)
	assert.Equal(t, 274.07, (<-headings).Payload.(*messages.HeadingStamped).Heading)
}

func TestReader_CancelClosesPort(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	b := bus.New()
	defer b.Close()
	r := NewReader(pr, b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	_, err := io.WriteString(pw, hdt+"\r\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.Stats().Headings == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.NoError(t, r.Close(), "second close is a no-op")
}

func TestOpen(t *testing.T) {
	var gotPath string
	var gotMode *serial.Mode
	opener := func(path string, mode *serial.Mode) (Port, error) {
		gotPath, gotMode = path, mode
		return nopPort{strings.NewReader("")}, nil
	}

	r, err := Open(opener, "/dev/ttyUSB0", PortOptions{BaudRate: 38400}, bus.New(), nil)
	require.NoError(t, err)
	assert.NotNil(t, r)
	assert.Equal(t, "/dev/ttyUSB0", gotPath)
	assert.Equal(t, 38400, gotMode.BaudRate)

	failing := func(string, *serial.Mode) (Port, error) { return nil, errors.New("no such device") }
	_, err = Open(failing, "/dev/null", PortOptions{}, bus.New(), nil)
	assert.ErrorContains(t, err, "no such device")

	_, err = Open(opener, "/dev/ttyUSB0", PortOptions{DataBits: 4}, bus.New(), nil)
	assert.Error(t, err)
}

func TestAttachAdminRoutes(t *testing.T) {
	monitoring.SetLogger(t.Logf)
	defer monitoring.SetLogger(nil)

	b := bus.New()
	defer b.Close()
	r := NewReader(nopPort{strings.NewReader(hdt + "\r\n" + rmc + "\r\n")}, b, timeutil.NewMockClock(t0))
	require.NoError(t, r.Run(context.Background()))

	mux := http.NewServeMux()
	r.AttachAdminRoutes(mux)
	rec := testutil.ServeDebug(t, mux, "/debug/gnss")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, Stats{Headings: 1, Unsupported: 1}, testutil.DecodeJSON[Stats](t, rec))
}
