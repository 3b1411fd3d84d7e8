package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func createdID(t *testing.T, body []byte) string {
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.ID == "" {
		t.Fatalf("expected JSON with id, got %s (%v)\n", string(body), err)
	}
	return resp.ID
}

func viewportJSON(width, height int) string {
	vals := make([]string, 16)
	for i, v := range testViewport() {
		vals[i] = fmt.Sprintf("%g", v)
	}
	return fmt.Sprintf(`{"width": %d, "height": %d, "viewportToData": [%s], "voxelSize": [1, 1, 1]}`,
		width, height, strings.Join(vals, ", "))
}

func TestHTTPSliceView(t *testing.T) {
	ts := OpenTest(map[string]VolumeSource{"em": newTestVolume(t)})
	defer ts.Close()

	viewID := createdID(t, ts.TestHTTP(t, "POST", "/api/sliceview", bytes.NewBufferString(`{"name": "xy"}`)))
	layerID := createdID(t, ts.TestHTTP(t, "POST", "/api/layer", bytes.NewBufferString(`{"volume": "em", "maxMIPLevel": 0}`)))

	ts.TestHTTP(t, "POST", fmt.Sprintf("/api/sliceview/%s/layers/%s", viewID, layerID), nil)
	ts.TestHTTP(t, "POST", fmt.Sprintf("/api/sliceview/%s/view", viewID), bytes.NewBufferString(viewportJSON(100, 50)))

	var queue []queuedRequest
	body := ts.TestHTTP(t, "GET", "/api/queue", nil)
	if err := json.Unmarshal(body, &queue); err != nil {
		t.Fatalf("bad queue response %s: %v\n", string(body), err)
	}
	if len(queue) <= len(visibleCells) {
		t.Fatalf("expected visible and prefetch requests, got %v\n", queue)
	}
	for i, req := range queue[:len(visibleCells)] {
		if req.Tier != "visible" || !visibleCells[req.Chunk] || req.Source != "s0" {
			t.Errorf("request %d: expected visible s0 cell, got %+v\n", i, req)
		}
	}
	for _, req := range queue[len(visibleCells):] {
		if req.Tier != "prefetch" {
			t.Errorf("expected prefetch after visible requests, got %+v\n", req)
		}
	}
	body = ts.TestHTTP(t, "GET", "/api/queue?limit=2", nil)
	if err := json.Unmarshal(body, &queue); err != nil || len(queue) != 2 {
		t.Errorf("expected 2 requests with limit, got %s\n", string(body))
	}

	ts.TestHTTP(t, "POST", fmt.Sprintf("/api/sliceview/%s/prefetch", viewID), bytes.NewBufferString(`{"enabled": false}`))
	ts.TestHTTP(t, "POST", fmt.Sprintf("/api/sliceview/%s/visibility", viewID), bytes.NewBufferString(`{"visibility": 5}`))
	body = ts.TestHTTP(t, "GET", "/api/sliceview/"+viewID, nil)
	var desc ViewDescription
	if err := json.Unmarshal(body, &desc); err != nil {
		t.Fatalf("bad view description %s: %v\n", string(body), err)
	}
	if desc.Prefetch.Enabled || desc.Visibility != "5" || desc.Width != 100 || len(desc.Layers) != 1 {
		t.Errorf("unexpected view description %s\n", string(body))
	}
	if len(ts.Manager.Queue()) != len(visibleCells) {
		t.Errorf("expected only the visible cells queued, got %d requests\n", len(ts.Manager.Queue()))
	}

	ts.TestHTTP(t, "POST", fmt.Sprintf("/api/sliceview/%s/visibility", viewID), bytes.NewBufferString(`{"visibility": "-inf"}`))
	if n := len(ts.Manager.Queue()); n != 0 {
		t.Errorf("expected hidden view to have no queued requests, got %d\n", n)
	}

	ts.TestHTTP(t, "DELETE", fmt.Sprintf("/api/sliceview/%s/layers/%s", viewID, layerID), nil)
	ts.TestBadHTTP(t, "DELETE", fmt.Sprintf("/api/sliceview/%s/layers/%s", viewID, layerID), nil, http.StatusBadRequest)
	ts.TestHTTP(t, "DELETE", "/api/sliceview/"+viewID, nil)
	ts.TestBadHTTP(t, "GET", "/api/sliceview/"+viewID, nil, http.StatusNotFound)
}

func TestHTTPLayer(t *testing.T) {
	ts := OpenTest(map[string]VolumeSource{"em": newTestVolume(t)})
	defer ts.Close()

	layerID := createdID(t, ts.TestHTTP(t, "POST", "/api/layer", bytes.NewBufferString(`{"volume": "em", "name": "grayscale"}`)))

	ts.TestHTTP(t, "POST", "/api/layer/"+layerID+"/mip", bytes.NewBufferString(`{"minMIPLevel": 1, "maxMIPLevel": 1}`))
	ts.TestHTTP(t, "POST", "/api/layer/"+layerID+"/transform",
		bytes.NewBufferString(`{"transform": [2,0,0,0, 0,2,0,0, 0,0,2,0, 10,0,0,1]}`))

	var desc LayerDescription
	body := ts.TestHTTP(t, "GET", "/api/layer/"+layerID, nil)
	if err := json.Unmarshal(body, &desc); err != nil {
		t.Fatalf("bad layer description %s: %v\n", string(body), err)
	}
	if desc.Name != "grayscale" || desc.Volume != "em" || desc.NumLevels != 2 {
		t.Errorf("unexpected layer description %s\n", string(body))
	}
	if desc.MIP.MinMIPLevel == nil || *desc.MIP.MinMIPLevel != 1 || desc.MIP.MaxMIPLevel == nil || *desc.MIP.MaxMIPLevel != 1 {
		t.Errorf("expected MIP levels 1..1, got %s\n", string(body))
	}
	if desc.Transform[12] != 10 || desc.VoxelSizes[0] != [3]float64{2, 2, 2} {
		t.Errorf("expected scaled and translated transform, got %s\n", string(body))
	}

	bad := []struct {
		method, url, body string
		status            int
	}{
		{"POST", "/api/layer", `{"name": "no volume"}`, http.StatusBadRequest},
		{"POST", "/api/layer", `{"volume": "em", "minMIPLevel": -1}`, http.StatusBadRequest},
		{"POST", "/api/layer", `{"volume": "em", "color": "red"}`, http.StatusBadRequest},
		{"POST", "/api/layer", `{"volume": "em", "minMIPLevel": 2}`, http.StatusBadRequest},
		{"POST", "/api/layer", `{"volume": "nope"}`, http.StatusNotFound},
		{"POST", "/api/layer/" + layerID + "/mip", `{"maxMIPLevel": 2}`, http.StatusBadRequest},
		{"POST", "/api/layer/" + layerID + "/mip", `{"maxMIPLevel": "one"}`, http.StatusBadRequest},
		{"POST", "/api/layer/" + layerID + "/transform", `{"transform": [1, 0, 0]}`, http.StatusBadRequest},
		{"POST", "/api/layer/" + layerID + "/transform", `{"transform": [0,0,0,0, 0,0,0,0, 0,0,0,0, 0,0,0,1]}`, http.StatusBadRequest},
		{"POST", "/api/layer/unknown/mip", `{}`, http.StatusNotFound},
		{"POST", "/api/sliceview/unknown/view", `{"width": 10, "height": 10}`, http.StatusNotFound},
		{"POST", "/api/sliceview/unknown/visibility", `{"visibility": "nan"}`, http.StatusBadRequest},
		{"GET", "/api/nothing", ``, http.StatusNotFound},
	}
	for _, tc := range bad {
		ts.TestBadHTTP(t, tc.method, tc.url, bytes.NewBufferString(tc.body), tc.status)
	}

	ts.TestHTTP(t, "DELETE", "/api/layer/"+layerID, nil)
	ts.TestBadHTTP(t, "GET", "/api/layer/"+layerID, nil, http.StatusNotFound)
}

func TestHTTPStats(t *testing.T) {
	ts := OpenTest(nil)
	defer ts.Close()

	body := ts.TestHTTP(t, "GET", "/api/stats", nil)
	var stats map[string]interface{}
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("bad stats response %s: %v\n", string(body), err)
	}
	for _, key := range []string{"generation", "chunks", "cache_size", "states"} {
		if _, found := stats[key]; !found {
			t.Errorf("expected %q in stats %s\n", key, string(body))
		}
	}
	if help := ts.TestHTTP(t, "GET", "/api/help", nil); !bytes.Contains(help, []byte("/api/sliceview")) {
		t.Errorf("expected API help text, got %s\n", string(help))
	}
	if metrics := ts.TestHTTP(t, "GET", "/metrics", nil); len(metrics) == 0 {
		t.Errorf("expected prometheus metrics\n")
	}
}

func TestParseVisibility(t *testing.T) {
	tests := []struct {
		value  interface{}
		expect string
		ok     bool
	}{
		{float64(3), "3", true},
		{"inf", "+Inf", true},
		{"-Inf", "-Inf", true},
		{"+inf", "+Inf", true},
		{"NaN", "", false},
		{"visible", "", false},
		{true, "", false},
	}
	for _, tc := range tests {
		got, err := parseVisibility(tc.value)
		if tc.ok != (err == nil) {
			t.Errorf("parse %v: expected ok %t, got error %v\n", tc.value, tc.ok, err)
			continue
		}
		if tc.ok && fmt.Sprintf("%g", got) != tc.expect {
			t.Errorf("parse %v: expected %s, got %g\n", tc.value, tc.expect, got)
		}
	}
}
