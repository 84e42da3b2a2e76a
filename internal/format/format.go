// Package format describes the output formats a processing job can declare:
// MIME type plus canonical file extension.
package format

import (
	"fmt"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fruitsalade/outputstore/internal/storage"
)

// Format is a declared output format. It satisfies storage.Format.
type Format struct {
	Name string
	Mime string
	Ext  string
}

// Extension returns the canonical extension with its leading dot.
func (f Format) Extension() string { return f.Ext }

// MimeType returns the format's MIME type.
func (f Format) MimeType() string { return f.Mime }

func (f Format) String() string {
	if f.Name != "" {
		return f.Name
	}
	return f.Mime
}

// Common output formats.
var (
	GeoJSON = Format{Name: "GEOJSON", Mime: "application/geo+json", Ext: ".geojson"}
	JSON    = Format{Name: "JSON", Mime: "application/json", Ext: ".json"}
	SHP     = Format{Name: "SHP", Mime: "application/x-zipped-shp", Ext: ".zip"}
	GML     = Format{Name: "GML", Mime: "application/gml+xml", Ext: ".gml"}
	GeoTIFF = Format{Name: "GEOTIFF", Mime: "image/tiff; subtype=geotiff", Ext: ".tiff"}
	WCS     = Format{Name: "WCS", Mime: "application/xogc-wcs", Ext: ".xml"}
	WFS     = Format{Name: "WFS", Mime: "application/x-ogc-wfs", Ext: ".xml"}
	WMS     = Format{Name: "WMS", Mime: "application/x-ogc-wms", Ext: ".xml"}
	KML     = Format{Name: "KML", Mime: "application/vnd.google-earth.kml+xml", Ext: ".kml"}
	KMZ     = Format{Name: "KMZ", Mime: "application/vnd.google-earth.kmz", Ext: ".kmz"}
	Text    = Format{Name: "TEXT", Mime: "text/plain", Ext: ".txt"}
	CSV     = Format{Name: "CSV", Mime: "text/csv", Ext: ".csv"}
	NetCDF  = Format{Name: "NETCDF", Mime: "application/x-netcdf", Ext: ".nc"}
	DODS    = Format{Name: "DODS", Mime: "application/x-ogc-dods", Ext: ".nc"}
	ZIP     = Format{Name: "ZIP", Mime: "application/zip", Ext: ".zip"}
	PNG     = Format{Name: "PNG", Mime: "image/png", Ext: ".png"}
)

var known = []Format{GeoJSON, JSON, SHP, GML, GeoTIFF, WCS, WFS, WMS, KML, KMZ, Text, CSV, NetCDF, DODS, ZIP, PNG}

// Lookup finds a known format by MIME type. Parameters are compared only
// when the exact string does not match ("image/tiff; subtype=geotiff").
func Lookup(mimeType string) (Format, bool) {
	mimeType = strings.TrimSpace(mimeType)
	for _, f := range known {
		if strings.EqualFold(f.Mime, mimeType) {
			return f, true
		}
	}
	base, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return Format{}, false
	}
	for _, f := range known {
		fb, _, _ := mime.ParseMediaType(f.Mime)
		if fb == base {
			return f, true
		}
	}
	return Format{}, false
}

// ForMime returns the known format for mimeType, or a format whose extension
// comes from the system MIME table. Ext is empty if nothing is registered.
func ForMime(mimeType string) Format {
	if f, ok := Lookup(mimeType); ok {
		return f
	}
	f := Format{Mime: mimeType}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		f.Ext = exts[0]
	}
	return f
}

// ForExtension returns a format carrying ext, using the known table for its MIME type.
func ForExtension(ext string) Format {
	ext = strings.TrimLeft(strings.TrimSpace(ext), ".")
	if ext == "" {
		return Format{}
	}
	ext = "." + ext
	for _, f := range known {
		if strings.EqualFold(f.Ext, ext) {
			return f
		}
	}
	return Format{Mime: mime.TypeByExtension(ext), Ext: ext}
}

// Detect sniffs the format of the file at path from its content.
func Detect(path string) (Format, error) {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return Format{}, fmt.Errorf("detect %s: %w", path, err)
	}
	if f, ok := Lookup(m.String()); ok {
		return f, nil
	}
	return Format{Mime: m.String(), Ext: m.Extension()}, nil
}

// Detector adapts Detect to storage.Namer's Detect hook.
func Detector(path string) (storage.Format, error) {
	f, err := Detect(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}
