package gnss

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/roadway/internal/messages"
)

var (
	// ErrChecksum is returned for a sentence whose checksum does not match.
	ErrChecksum = errors.New("nmea checksum mismatch")
	// ErrUnsupported is returned for well-formed sentences this package
	// does not decode.
	ErrUnsupported = errors.New("unsupported nmea sentence")
)

// Position covariance type of a NavSatFix built from HDOP.
const covarianceApproximated = 1

// UERE in metres; HDOP scales it into a horizontal standard deviation.
const rangeErrorStdDev = 5.0

// Sentence is a checksum-verified NMEA sentence split into fields.
type Sentence struct {
	Talker string // e.g. "GP", "GN"
	Type   string // e.g. "GGA"
	Fields []string
}

// ParseSentence verifies the framing and checksum of one NMEA line.
// The checksum is optional, as some receivers omit it.
func ParseSentence(line string) (Sentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Sentence{}, fmt.Errorf("missing '$' in %q", line)
	}
	body := line[1:]
	if star := strings.LastIndexByte(body, '*'); star >= 0 {
		want, err := strconv.ParseUint(body[star+1:], 16, 8)
		if err != nil {
			return Sentence{}, fmt.Errorf("bad checksum field in %q: %w", line, err)
		}
		body = body[:star]
		if got := checksum(body); uint64(got) != want {
			return Sentence{}, fmt.Errorf("%w: got %02X want %02X", ErrChecksum, got, want)
		}
	}

	fields := strings.Split(body, ",")
	addr := fields[0]
	if len(addr) < 5 {
		return Sentence{}, fmt.Errorf("bad address field %q", addr)
	}
	return Sentence{
		Talker: addr[:len(addr)-3],
		Type:   addr[len(addr)-3:],
		Fields: fields[1:],
	}, nil
}

func checksum(body string) byte {
	var cs byte
	for i := 0; i < len(body); i++ {
		cs ^= body[i]
	}
	return cs
}

// Decode converts a sentence into a *messages.NavSatFix (GGA) or a
// *messages.HeadingStamped (HDT) stamped with t.
func Decode(s Sentence, t time.Time) (any, error) {
	switch s.Type {
	case "GGA":
		return decodeGGA(s.Fields, t)
	case "HDT":
		return decodeHDT(s.Fields, t)
	}
	return nil, fmt.Errorf("%w: %s%s", ErrUnsupported, s.Talker, s.Type)
}

// GGA: time, lat, N/S, lon, E/W, quality, satellites, hdop, alt, M, geoid separation, M, ...
func decodeGGA(f []string, t time.Time) (*messages.NavSatFix, error) {
	if len(f) < 11 {
		return nil, fmt.Errorf("GGA: want at least 11 fields, got %d", len(f))
	}
	fix := &messages.NavSatFix{
		Header: messages.Header{Stamp: t, FrameID: "gnss"},
		Status: fixStatus(f[5]),
	}
	if fix.Status == messages.StatusNoFix {
		return fix, nil
	}

	var err error
	if fix.Latitude, err = parseCoord(f[1], f[2], 2); err != nil {
		return nil, fmt.Errorf("GGA latitude: %w", err)
	}
	if fix.Longitude, err = parseCoord(f[3], f[4], 3); err != nil {
		return nil, fmt.Errorf("GGA longitude: %w", err)
	}
	alt, err := parseFloatOr(f[8], 0)
	if err != nil {
		return nil, fmt.Errorf("GGA altitude: %w", err)
	}
	sep, err := parseFloatOr(f[10], 0)
	if err != nil {
		return nil, fmt.Errorf("GGA geoid separation: %w", err)
	}
	// GGA altitude is above mean sea level; the ellipsoid height adds the
	// geoid separation.
	fix.Altitude = alt + sep

	if hdop, err := parseFloatOr(f[7], 0); err == nil && hdop > 0 {
		h := (hdop * rangeErrorStdDev) * (hdop * rangeErrorStdDev)
		fix.PositionCovariance = [9]float64{h, 0, 0, 0, h, 0, 0, 0, 4 * h}
		fix.PositionCovarianceType = covarianceApproximated
	}
	return fix, nil
}

func fixStatus(quality string) messages.NavSatStatus {
	switch quality {
	case "1", "6": // GPS, dead reckoning
		return messages.StatusFix
	case "2", "9": // DGPS, WAAS
		return messages.StatusSBAS
	case "4", "5": // RTK fixed, RTK float
		return messages.StatusGBAS
	}
	return messages.StatusNoFix
}

// parseCoord converts NMEA (d)ddmm.mmmm plus hemisphere into signed degrees.
func parseCoord(v, hemi string, degDigits int) (float64, error) {
	if len(v) < degDigits+2 {
		return 0, fmt.Errorf("malformed coordinate %q", v)
	}
	deg, err := strconv.ParseFloat(v[:degDigits], 64)
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.ParseFloat(v[degDigits:], 64)
	if err != nil {
		return 0, err
	}
	if minutes >= 60 {
		return 0, fmt.Errorf("minutes out of range in %q", v)
	}
	out := deg + minutes/60
	switch hemi {
	case "N", "E":
	case "S", "W":
		out = -out
	default:
		return 0, fmt.Errorf("bad hemisphere %q", hemi)
	}
	return out, nil
}

func parseFloatOr(v string, def float64) (float64, error) {
	if v == "" {
		return def, nil
	}
	return strconv.ParseFloat(v, 64)
}

// HDT: heading, T
func decodeHDT(f []string, t time.Time) (*messages.HeadingStamped, error) {
	if len(f) < 1 || f[0] == "" {
		return nil, errors.New("HDT: missing heading")
	}
	h, err := strconv.ParseFloat(f[0], 64)
	if err != nil {
		return nil, fmt.Errorf("HDT heading: %w", err)
	}
	return &messages.HeadingStamped{
		Header:  messages.Header{Stamp: t, FrameID: "gnss"},
		Heading: h,
	}, nil
}
