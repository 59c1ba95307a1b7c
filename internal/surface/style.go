package surface

const (
	StyleVersion   = 8
	BaseSourceID   = "osm"
	BaseTileSize   = 256
	DefaultTileURL = "https://tile.openstreetmap.org/{z}/{x}/{y}.png"
	DefaultGlyphs  = "https://cdn.traccar.com/map/fonts/{fontstack}/{range}.pbf"

	DefaultAttribution = `© <a target="_top" rel="noopener" href="http://www.openstreetmap.org/copyright">OpenStreetMap</a> contributors`
)

type Style struct {
	Version int                    `json:"version"`
	Sources map[string]StyleSource `json:"sources"`
	Glyphs  string                 `json:"glyphs,omitempty"`
	Layers  []Layer                `json:"layers"`
}

type StyleSource struct {
	Type        string   `json:"type"`
	Tiles       []string `json:"tiles,omitempty"`
	TileSize    int      `json:"tileSize,omitempty"`
	Attribution string   `json:"attribution,omitempty"`
	Data        any      `json:"data,omitempty"`
}

type StyleOptions struct {
	TileURL     string
	Attribution string
	Glyphs      string
}

// NewBaseStyle returns the raster base style every surface starts from.
// Empty options fall back to OpenStreetMap tiles.
func NewBaseStyle(opts StyleOptions) Style {
	tileURL := opts.TileURL
	if tileURL == "" {
		tileURL = DefaultTileURL
	}
	attribution := opts.Attribution
	if attribution == "" {
		attribution = DefaultAttribution
	}
	glyphs := opts.Glyphs
	if glyphs == "" {
		glyphs = DefaultGlyphs
	}

	return Style{
		Version: StyleVersion,
		Sources: map[string]StyleSource{
			BaseSourceID: {
				Type:        "raster",
				Tiles:       []string{tileURL},
				TileSize:    BaseTileSize,
				Attribution: attribution,
			},
		},
		Glyphs: glyphs,
		Layers: []Layer{{ID: BaseSourceID, Type: "raster", Source: BaseSourceID}},
	}
}
