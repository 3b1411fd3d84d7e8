package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/twinj/uuid"

	"github.com/janelia-flyem/sliceview/chunk"
	"github.com/janelia-flyem/sliceview/chunkmanager"
	"github.com/janelia-flyem/sliceview/sliceview"
	"github.com/janelia-flyem/sliceview/sv"
)

const inboxSize = 256

var (
	ErrViewNotFound   = errors.New("slice view not found")
	ErrLayerNotFound  = errors.New("render layer not found")
	ErrVolumeNotFound = errors.New("volume not found")
	ErrWorkerStopped  = errors.New("worker stopped")
)

// VolumeSource provides the chunk sources of a volume, finest scale first.
type VolumeSource interface {
	Sources() [][]*chunk.Source
}

type result struct {
	value interface{}
	err   error
}

type envelope struct {
	msg   interface{}
	reply chan result
}

type viewRecord struct {
	name   string
	view   *sliceview.SliceView
	layers []string
}

type layerRecord struct {
	volume string
	layer  *sliceview.RenderLayer
	views  map[string]struct{}
}

// Worker owns all slice views and render layers.  Every access goes through
// messages handled in the Run goroutine.
type Worker struct {
	manager  *chunkmanager.Manager
	registry *chunk.Registry
	volumes  map[string]VolumeSource
	prefetch sliceview.PrefetchConfig
	debounce time.Duration

	inbox chan *envelope
	done  chan struct{}

	views  map[string]*viewRecord
	layers map[string]*layerRecord

	// set when a disposal must retire chunks even though no view is pending
	forceUpdate bool
	updates     int
}

// NewWorker returns a worker that sends chunk requests to the given manager.  Changes
// arriving within the debounce period of a first message are applied together.
func NewWorker(manager *chunkmanager.Manager, volumes map[string]VolumeSource, prefetch sliceview.PrefetchConfig, debounce time.Duration) *Worker {
	if volumes == nil {
		volumes = make(map[string]VolumeSource)
	}
	return &Worker{
		manager:  manager,
		registry: chunk.NewRegistry(),
		volumes:  volumes,
		prefetch: prefetch,
		debounce: debounce,
		inbox:    make(chan *envelope, inboxSize),
		done:     make(chan struct{}),
		views:    make(map[string]*viewRecord),
		layers:   make(map[string]*layerRecord),
	}
}

// Send delivers a message to the worker and waits until it was applied and any
// resulting priority update has run.
func (w *Worker) Send(ctx context.Context, msg interface{}) (interface{}, error) {
	env := &envelope{msg: msg, reply: make(chan result, 1)}
	select {
	case w.inbox <- env:
	case <-w.done:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-env.reply:
		return r.value, r.err
	case <-w.done:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Post delivers a message without waiting for the result.  Errors are logged.
func (w *Worker) Post(msg interface{}) {
	select {
	case w.inbox <- &envelope{msg: msg}:
	case <-w.done:
		sv.Warningf("Dropping %T message sent to stopped worker\n", msg)
	}
}

// Run handles messages until the context is done.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.done)
	sv.Infof("Slice view worker started (debounce %s)\n", w.debounce)
	for {
		var batch []*envelope
		select {
		case <-ctx.Done():
			w.shutdown()
			return nil
		case env := <-w.inbox:
			batch = append(batch, env)
		}
		batch = w.collect(ctx, batch)

		results := make([]result, len(batch))
		for i, env := range batch {
			results[i].value, results[i].err = w.apply(env.msg)
			if results[i].err != nil && env.reply == nil {
				sv.Errorf("Unable to apply %T: %v\n", env.msg, results[i].err)
			}
		}
		w.updatePriorities()
		for i, env := range batch {
			if env.reply != nil {
				env.reply <- results[i]
			}
		}
	}
}

// collect waits out the debounce period, then drains every queued message.
func (w *Worker) collect(ctx context.Context, batch []*envelope) []*envelope {
	if w.debounce > 0 {
		timer := time.NewTimer(w.debounce)
		defer timer.Stop()
	wait:
		for {
			select {
			case env := <-w.inbox:
				batch = append(batch, env)
			case <-timer.C:
				break wait
			case <-ctx.Done():
				break wait
			}
		}
	}
	for {
		select {
		case env := <-w.inbox:
			batch = append(batch, env)
		default:
			return batch
		}
	}
}

// updatePriorities runs one chunk manager generation if any view changed.  Every
// view re-emits its requests so chunks of unchanged views stay queued.
func (w *Worker) updatePriorities() {
	pending := w.forceUpdate
	for _, rec := range w.views {
		if rec.view.Pending() {
			pending = true
			break
		}
	}
	if !pending {
		return
	}
	w.forceUpdate = false
	w.updates++
	timedLog := sv.NewTimeLog()
	w.manager.UpdatePriorities(func() {
		for _, rec := range w.views {
			rec.view.Recompute()
		}
	})
	timedLog.Debugf("Recomputed chunk priorities of %d slice views", len(w.views))
}

func (w *Worker) shutdown() {
	for id := range w.views {
		w.disposeView(id)
	}
	for id := range w.layers {
		delete(w.layers, id)
	}
	w.manager.UpdatePriorities(func() {})
	sv.Infof("Slice view worker stopped after %d priority updates\n", w.updates)
}

func (w *Worker) apply(msg interface{}) (interface{}, error) {
	switch m := msg.(type) {
	case NewSliceView:
		return w.newSliceView(m)
	case UpdateView:
		return nil, w.updateView(m)
	case SetPrefetch:
		return nil, w.setPrefetch(m)
	case SetVisibility:
		rec, err := w.view(m.View)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(m.Visibility) {
			return nil, fmt.Errorf("visibility must be a number")
		}
		rec.view.SetVisibility(m.Visibility)
		return nil, nil
	case DisposeSliceView:
		if _, err := w.view(m.View); err != nil {
			return nil, err
		}
		w.disposeView(m.View)
		return nil, nil
	case NewRenderLayer:
		return w.newRenderLayer(m)
	case AddVisibleLayer:
		return nil, w.addVisibleLayer(m.View, m.Layer)
	case RemoveVisibleLayer:
		return nil, w.removeVisibleLayer(m.View, m.Layer)
	case UpdateLayerTransform:
		rec, err := w.layer(m.Layer)
		if err != nil {
			return nil, err
		}
		transform, err := sv.MatrixFromSlice(m.Transform)
		if err != nil {
			return nil, err
		}
		_, err = rec.layer.SetTransform(transform)
		return nil, err
	case UpdateMIPLevelConstraints:
		rec, err := w.layer(m.Layer)
		if err != nil {
			return nil, err
		}
		return nil, rec.layer.RestoreMIPLevels(m.MIP.MinMIPLevel, m.MIP.MaxMIPLevel)
	case DisposeRenderLayer:
		return nil, w.disposeLayer(m.Layer)
	case DescribeLayer:
		return w.describeLayer(m.Layer)
	case DescribeView:
		return w.describeView(m.View)
	default:
		return nil, fmt.Errorf("unknown worker message type %T", msg)
	}
}

func (w *Worker) view(id string) (*viewRecord, error) {
	rec, found := w.views[id]
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrViewNotFound, id)
	}
	return rec, nil
}

func (w *Worker) layer(id string) (*layerRecord, error) {
	rec, found := w.layers[id]
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrLayerNotFound, id)
	}
	return rec, nil
}

func (w *Worker) newSliceView(m NewSliceView) (string, error) {
	id := uuid.NewV4().String()
	w.views[id] = &viewRecord{
		name: m.Name,
		view: sliceview.New(w.manager, w.prefetch),
	}
	sv.Debugf("Created slice view %s (%q)\n", id, m.Name)
	return id, nil
}

func (w *Worker) updateView(m UpdateView) error {
	rec, err := w.view(m.View)
	if err != nil {
		return err
	}
	if m.Width < 0 || m.Height < 0 {
		return fmt.Errorf("bad viewport size %d x %d", m.Width, m.Height)
	}
	var transform sv.Matrix4
	if len(m.ViewportToData) != 0 {
		if transform, err = sv.MatrixFromSlice(m.ViewportToData); err != nil {
			return err
		}
	}
	rec.view.SetViewportSize(m.Width, m.Height)
	if len(m.ViewportToData) != 0 {
		rec.view.SetViewportToData(transform, sv.Vector3d(m.VoxelSize))
	}
	return nil
}

func (w *Worker) setPrefetch(m SetPrefetch) error {
	rec, err := w.view(m.View)
	if err != nil {
		return err
	}
	cfg := rec.view.PrefetchConfig()
	if m.Enabled != nil {
		cfg.Enabled = *m.Enabled
	}
	if m.WidthMultiplier != nil {
		cfg.WidthMultiplier = *m.WidthMultiplier
	}
	if m.HeightMultiplier != nil {
		cfg.HeightMultiplier = *m.HeightMultiplier
	}
	if m.DepthSteps != nil {
		cfg.DepthSteps = *m.DepthSteps
	}
	return rec.view.SetPrefetchConfig(cfg)
}

func (w *Worker) disposeView(id string) {
	rec := w.views[id]
	rec.view.Dispose()
	for _, layerID := range rec.layers {
		if lrec, found := w.layers[layerID]; found {
			delete(lrec.views, id)
		}
	}
	delete(w.views, id)
	w.forceUpdate = true
	sv.Debugf("Disposed slice view %s\n", id)
}

func (w *Worker) newRenderLayer(m NewRenderLayer) (string, error) {
	vol, found := w.volumes[m.Volume]
	if !found {
		return "", fmt.Errorf("%w: %q", ErrVolumeNotFound, m.Volume)
	}
	transform := mgl64.Ident4()
	if len(m.Transform) != 0 {
		var err error
		if transform, err = sv.MatrixFromSlice(m.Transform); err != nil {
			return "", sv.NewConfigError(m.Name, err)
		}
	}
	name := m.Name
	if name == "" {
		name = m.Volume
	}
	layer, err := sliceview.NewRenderLayer(name, w.registry, vol.Sources(), transform, m.MIP)
	if err != nil {
		return "", err
	}
	id := uuid.NewV4().String()
	w.layers[id] = &layerRecord{
		volume: m.Volume,
		layer:  layer,
		views:  make(map[string]struct{}),
	}
	sv.Debugf("Created %s as %s\n", layer, id)
	return id, nil
}

func (w *Worker) addVisibleLayer(viewID, layerID string) error {
	vrec, err := w.view(viewID)
	if err != nil {
		return err
	}
	lrec, err := w.layer(layerID)
	if err != nil {
		return err
	}
	if _, found := lrec.views[viewID]; found {
		return nil
	}
	vrec.view.AddVisibleLayer(lrec.layer)
	vrec.layers = append(vrec.layers, layerID)
	lrec.views[viewID] = struct{}{}
	return nil
}

func (w *Worker) removeVisibleLayer(viewID, layerID string) error {
	vrec, err := w.view(viewID)
	if err != nil {
		return err
	}
	lrec, err := w.layer(layerID)
	if err != nil {
		return err
	}
	if _, found := lrec.views[viewID]; !found {
		return fmt.Errorf("layer %q is not attached to slice view %q", layerID, viewID)
	}
	vrec.view.RemoveVisibleLayer(lrec.layer)
	for i, id := range vrec.layers {
		if id == layerID {
			vrec.layers = append(vrec.layers[:i], vrec.layers[i+1:]...)
			break
		}
	}
	delete(lrec.views, viewID)
	return nil
}

func (w *Worker) disposeLayer(layerID string) error {
	lrec, err := w.layer(layerID)
	if err != nil {
		return err
	}
	for viewID := range lrec.views {
		if err := w.removeVisibleLayer(viewID, layerID); err != nil {
			return err
		}
	}
	delete(w.layers, layerID)
	return nil
}

func (w *Worker) describeLayer(layerID string) (LayerDescription, error) {
	lrec, err := w.layer(layerID)
	if err != nil {
		return LayerDescription{}, err
	}
	transform := lrec.layer.Transform()
	desc := LayerDescription{
		ID:        layerID,
		Name:      lrec.layer.Name(),
		Volume:    lrec.volume,
		Transform: append([]float64(nil), transform[:]...),
		MIP:       lrec.layer.MIPState(),
		NumLevels: len(lrec.layer.Sources()),
		Views:     []string{},
	}
	for _, vs := range lrec.layer.VoxelSizePerMIPLevel() {
		desc.VoxelSizes = append(desc.VoxelSizes, [3]float64(vs))
	}
	for viewID := range lrec.views {
		desc.Views = append(desc.Views, viewID)
	}
	sort.Strings(desc.Views)
	return desc, nil
}

func (w *Worker) describeView(viewID string) (ViewDescription, error) {
	rec, err := w.view(viewID)
	if err != nil {
		return ViewDescription{}, err
	}
	v := rec.view
	return ViewDescription{
		ID:             viewID,
		Name:           rec.name,
		Width:          v.Width(),
		Height:         v.Height(),
		ValidViewport:  v.HasValidViewport(),
		Center:         [3]float64(v.Center()),
		PixelSize:      v.PixelSize(),
		Visibility:     strconv.FormatFloat(v.Visibility(), 'g', -1, 64),
		Prefetch:       v.PrefetchConfig(),
		Layers:         append([]string{}, rec.layers...),
		VisibleLayouts: len(v.VisibleLayouts()),
		Recomputations: v.Recomputations(),
	}, nil
}
