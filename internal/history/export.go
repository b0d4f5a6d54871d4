package history

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Format is an export file format
type Format string

const (
	FormatGPX Format = "gpx"
	FormatKML Format = "kml"
	FormatCSV Format = "csv"
)

const (
	exportCreator  = "Mayak Finder"
	exportTitle    = "Beacon coordinate history"
	exportBaseName = "mayak-history"
	isoLayout      = "2006-01-02T15:04:05.000Z"

	// DefaultTimeLayout renders CSV timestamps as day.month.year, time
	DefaultTimeLayout = "02.01.2006, 15:04:05"
)

// ExportOptions controls the parts of an export that depend on the caller
type ExportOptions struct {
	// GeneratedAt stamps the GPX metadata; zero means now
	GeneratedAt time.Time
	// TimeLayout and Location render CSV timestamps
	TimeLayout string
	Location   *time.Location
}

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatGPX, FormatKML, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// FileName returns the download file name for a format
func FileName(f Format) string {
	return exportBaseName + "." + string(f)
}

// ContentType returns the MIME type for a format
func ContentType(f Format) string {
	switch f {
	case FormatGPX:
		return "application/gpx+xml"
	case FormatKML:
		return "application/vnd.google-earth.kml+xml"
	case FormatCSV:
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}

// Export writes entries in the given format
func Export(w io.Writer, f Format, entries []Entry, opts ExportOptions) error {
	switch f {
	case FormatGPX:
		generatedAt := opts.GeneratedAt
		if generatedAt.IsZero() {
			generatedAt = time.Now()
		}
		return WriteGPX(w, entries, generatedAt)
	case FormatKML:
		return WriteKML(w, entries)
	case FormatCSV:
		return WriteCSV(w, entries, opts.TimeLayout, opts.Location)
	default:
		return fmt.Errorf("unsupported export format %q", f)
	}
}

// WriteGPX writes a GPX 1.1 document with one waypoint per entry
func WriteGPX(w io.Writer, entries []Entry, generatedAt time.Time) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	fmt.Fprintf(bw, "<gpx version=\"1.1\" creator=\"%s\" xmlns=\"http://www.topografix.com/GPX/1/1\">\n", escapeXML(exportCreator))
	fmt.Fprintf(bw, "  <metadata>\n")
	fmt.Fprintf(bw, "    <name>%s</name>\n", escapeXML(exportTitle))
	fmt.Fprintf(bw, "    <time>%s</time>\n", isoTime(generatedAt))
	fmt.Fprintf(bw, "  </metadata>\n")
	for _, e := range entries {
		fmt.Fprintf(bw, "  <wpt lat=\"%s\" lon=\"%s\">\n", formatCoord(e.Latitude), formatCoord(e.Longitude))
		fmt.Fprintf(bw, "    <time>%s</time>\n", isoTime(e.Timestamp))
		fmt.Fprintf(bw, "    <name>%s</name>\n", escapeXML(e.Name))
		fmt.Fprintf(bw, "  </wpt>\n")
	}
	fmt.Fprintf(bw, "</gpx>\n")
	return bw.Flush()
}

// WriteKML writes a KML 2.2 document with one placemark per entry
func WriteKML(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	fmt.Fprintf(bw, "<kml xmlns=\"http://www.opengis.net/kml/2.2\">\n")
	fmt.Fprintf(bw, "  <Document>\n")
	fmt.Fprintf(bw, "    <name>%s</name>\n", escapeXML(exportTitle))
	for _, e := range entries {
		fmt.Fprintf(bw, "    <Placemark>\n")
		fmt.Fprintf(bw, "      <name>%s</name>\n", escapeXML(e.Name))
		fmt.Fprintf(bw, "      <TimeStamp>\n")
		fmt.Fprintf(bw, "        <when>%s</when>\n", isoTime(e.Timestamp))
		fmt.Fprintf(bw, "      </TimeStamp>\n")
		fmt.Fprintf(bw, "      <Point>\n")
		fmt.Fprintf(bw, "        <coordinates>%s,%s,0</coordinates>\n", formatCoord(e.Longitude), formatCoord(e.Latitude))
		fmt.Fprintf(bw, "      </Point>\n")
		fmt.Fprintf(bw, "    </Placemark>\n")
	}
	fmt.Fprintf(bw, "  </Document>\n")
	fmt.Fprintf(bw, "</kml>\n")
	return bw.Flush()
}

// WriteCSV writes a header row followed by one row per entry. The column
// order and header are fixed; only the time rendering follows layout and loc.
func WriteCSV(w io.Writer, entries []Entry, layout string, loc *time.Location) error {
	if layout == "" {
		layout = DefaultTimeLayout
	}
	if loc == nil {
		loc = time.Local
	}

	bw := bufio.NewWriter(w)
	bw.WriteString("Name,Latitude,Longitude,Time\n")
	for _, e := range entries {
		bw.WriteString(quoteCSV(e.Name))
		bw.WriteByte(',')
		bw.WriteString(formatCoord(e.Latitude))
		bw.WriteByte(',')
		bw.WriteString(formatCoord(e.Longitude))
		bw.WriteByte(',')
		bw.WriteString(quoteCSV(e.Timestamp.In(loc).Format(layout)))
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"'", "&apos;",
	`"`, "&quot;",
)

func escapeXML(s string) string {
	return xmlEscaper.Replace(s)
}

func quoteCSV(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func isoTime(t time.Time) string {
	return t.UTC().Format(isoLayout)
}
