package server

import (
	"github.com/janelia-flyem/sliceview/mip"
	"github.com/janelia-flyem/sliceview/rpc"
	"github.com/janelia-flyem/sliceview/sliceview"
)

// Messages accepted by the Worker.  Each is applied within the worker goroutine.
type (
	// NewSliceView creates a slice view and returns its ID.
	NewSliceView struct {
		Name string
	}

	// UpdateView sets the viewport size and, if given, the 16 column-major values of
	// the viewport-to-data transform.
	UpdateView struct {
		View           string
		Width, Height  int
		ViewportToData []float64
		VoxelSize      [3]float64
	}

	// SetPrefetch changes the given prefetch settings.
	SetPrefetch struct {
		View             string
		Enabled          *bool
		WidthMultiplier  *float64
		HeightMultiplier *float64
		DepthSteps       *int
	}

	// SetVisibility sets the visibility of a view: +Inf visible, -Inf hidden.
	SetVisibility struct {
		View       string
		Visibility float64
	}

	DisposeSliceView struct {
		View string
	}

	// NewRenderLayer creates a render layer over a configured volume and returns
	// its ID.  An empty Transform is the identity.
	NewRenderLayer struct {
		Name      string
		Volume    string
		Transform []float64
		MIP       mip.State
	}

	AddVisibleLayer struct {
		View, Layer string
	}

	RemoveVisibleLayer struct {
		View, Layer string
	}

	UpdateLayerTransform struct {
		Layer     string
		Transform []float64
	}

	UpdateMIPLevelConstraints struct {
		Layer string
		MIP   mip.State
	}

	DisposeRenderLayer struct {
		Layer string
	}

	// DescribeLayer returns a LayerDescription.
	DescribeLayer struct {
		Layer string
	}

	// DescribeView returns a ViewDescription.
	DescribeView struct {
		View string
	}
)

// LayerDescription is the JSON/RPC view of a render layer.
type LayerDescription struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Volume     string       `json:"volume"`
	Transform  []float64    `json:"transform"`
	MIP        mip.State    `json:"mip"`
	NumLevels  int          `json:"numLevels"`
	VoxelSizes [][3]float64 `json:"voxelSizes"`
	Views      []string     `json:"views"`
}

// ViewDescription is the JSON/RPC view of a slice view.  Visibility is formatted
// as text since JSON has no infinities.
type ViewDescription struct {
	ID             string                   `json:"id"`
	Name           string                   `json:"name"`
	Width          int                      `json:"width"`
	Height         int                      `json:"height"`
	ValidViewport  bool                     `json:"validViewport"`
	Center         [3]float64               `json:"center"`
	PixelSize      float64                  `json:"pixelSize"`
	Visibility     string                   `json:"visibility"`
	Prefetch       sliceview.PrefetchConfig `json:"prefetch"`
	Layers         []string                 `json:"layers"`
	VisibleLayouts int                      `json:"visibleLayouts"`
	Recomputations int                      `json:"recomputations"`
}

func init() {
	for _, msg := range []interface{}{
		NewSliceView{}, UpdateView{}, SetPrefetch{}, SetVisibility{}, DisposeSliceView{},
		NewRenderLayer{}, AddVisibleLayer{}, RemoveVisibleLayer{}, UpdateLayerTransform{},
		UpdateMIPLevelConstraints{}, DisposeRenderLayer{}, DescribeLayer{}, DescribeView{},
		LayerDescription{}, ViewDescription{},
	} {
		rpc.RegisterType(msg)
	}
}
