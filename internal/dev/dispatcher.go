// Package dev implements the Dev Dispatcher: one
// http.Handler that classifies every request by reserved endpoint, path
// shape, and extension, serves modules through the Resolver/Graph
// Store/Transform Engine/CAS pipeline, and drives the HMR Coordinator's
// apply/ack handshake when the Watcher reports a change.
//
// The routing order below is a direct generalization of esmdev's
// esmServer.ServeHTTP dispatch chain (esmdev/server.go): SSE endpoint
// first, then prefixed virtual paths, then HTML, then extension-based
// source/asset classification. Ionify replaces esmdev's pre-bundled
// /@deps/ and /@lib/ special cases with the Path Mapper's single
// /@modules/ out-of-root encoding, since content addressing removes the
// need for a separate prebundle step.
package dev

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ionifyjs/ionify/internal/graph"
	"github.com/ionifyjs/ionify/internal/hash"
	"github.com/ionifyjs/ionify/internal/hmr"
	"github.com/ionifyjs/ionify/internal/importscan"
	"github.com/ionifyjs/ionify/internal/loader"
	"github.com/ionifyjs/ionify/internal/logging"
	"github.com/ionifyjs/ionify/internal/pathmap"
	"github.com/ionifyjs/ionify/internal/resolver"
	"github.com/ionifyjs/ionify/internal/transform"
	"github.com/ionifyjs/ionify/internal/watcher"
)

// Reserved endpoints.
const (
	SSEPath       = "/__ionify_hmr"
	ApplyPath     = "/__ionify_hmr/apply"
	ErrorPath     = "/__ionify_hmr/error"
	ClientJSPath  = "/__ionify_hmr_client.js"
	cssModuleName = "esbuild-css-module"
	cssInlineName = "esbuild-css"
	cssPlainName  = "esbuild-css-plain"
)

// Dispatcher routes dev-server HTTP requests.
type Dispatcher struct {
	root     string
	resolver *resolver.Resolver
	engine   *transform.Engine
	graph    *graph.Store
	hmr      *hmr.Coordinator
	watch    *watcher.Watcher
}

// New constructs a Dispatcher serving root.
func New(root string, r *resolver.Resolver, e *transform.Engine, g *graph.Store, h *hmr.Coordinator, w *watcher.Watcher) *Dispatcher {
	return &Dispatcher{root: root, resolver: r, engine: e, graph: g, hmr: h, watch: w}
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	urlPath := r.URL.Path

	switch urlPath {
	case SSEPath:
		d.handleHMR(w, r)
		return
	case ApplyPath:
		d.handleApply(w, r)
		return
	case ErrorPath:
		d.handleHMRErrorReport(w, r)
		return
	case ClientJSPath:
		d.handleClientJS(w, r)
		return
	}

	absPath, err := pathmap.Decode(d.root, urlPath)
	if err != nil {
		http.Error(w, "bad path", http.StatusBadRequest)
		return
	}

	if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
		absPath = probeDirectory(absPath)
	}

	ext := strings.ToLower(filepath.Ext(absPath))
	if ext == ".html" || urlPath == "/" {
		d.handleHTML(w, r, absPath, start)
		return
	}

	switch ext {
	case ".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs":
		d.handleJS(w, r, urlPath, absPath, start)
	case ".css":
		d.handleCSS(w, r, urlPath, absPath, start)
	default:
		d.handleAsset(w, r, urlPath, absPath, start)
	}
}

// probeDirectory implements the directory-request fallback:
// index.{html,js,ts,tsx,jsx} or package.json#main.
func probeDirectory(dir string) string {
	for _, candidate := range []string{"index.html", "index.js", "index.ts", "index.tsx", "index.jsx"} {
		p := filepath.Join(dir, candidate)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if data, err := os.ReadFile(filepath.Join(dir, "package.json")); err == nil {
		var pkg struct {
			Main string `json:"main"`
		}
		if json.Unmarshal(data, &pkg) == nil && pkg.Main != "" {
			return filepath.Join(dir, pkg.Main)
		}
	}
	return filepath.Join(dir, "index.html")
}

// handleJS serves a JS/TS module: it runs the Transform Engine, then
// records the module's static and dynamic dependency edges in the Graph
// Store and subscribes every dependency directory in the Watcher.
func (d *Dispatcher) handleJS(w http.ResponseWriter, r *http.Request, urlPath, absPath string, start time.Time) {
	contents, err := os.ReadFile(absPath)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	result, err := d.engine.Transform(r.Context(), transform.Request{Path: absPath, Contents: contents, Kind: loader.KindJS})
	if err != nil {
		d.failTransform(w, urlPath, err)
		return
	}

	changed := d.recordModule(r.Context(), absPath, contents, "js", result.Output.SupportsRefresh)

	code := applyEnvPlaceholders(result.Output.Code)
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "no-cache")
	setCacheHeader(w, changed)
	w.Write(code)
	logging.L().Sugar().Debugf("[dev] %s %s -> 200 (%dms, changed=%v)", r.Method, urlPath, time.Since(start).Milliseconds(), changed)
}

// cssMode classifies a CSS request by its query string and filename, per
// the query conventions.
func cssMode(rawQuery, absPath string) (loaderName string, kind loader.Kind) {
	q := r2query(rawQuery)
	switch {
	case q["module"] || strings.HasSuffix(absPath, ".module.css"):
		return cssModuleName, loader.KindCSSModule
	case q["inline"]:
		return cssInlineName, loader.KindCSS
	default:
		return cssPlainName, loader.KindCSS
	}
}

// r2query parses a raw query string (r.URL.RawQuery) into a presence set,
// so ?inline/?module/?import are detected regardless of value.
func r2query(rawQuery string) map[string]bool {
	out := map[string]bool{}
	if rawQuery == "" {
		return out
	}
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		key := part
		if j := strings.IndexByte(part, '='); j >= 0 {
			key = part[:j]
		}
		if unescaped, err := url.QueryUnescape(key); err == nil {
			key = unescaped
		}
		out[key] = true
	}
	return out
}

func (d *Dispatcher) handleCSS(w http.ResponseWriter, r *http.Request, urlPath, absPath string, start time.Time) {
	contents, err := os.ReadFile(absPath)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	loaderName, kind := cssMode(r.URL.RawQuery, absPath)
	result, err := d.engine.Transform(r.Context(), transform.Request{
		Path: absPath, Contents: contents, Kind: kind, LoaderName: loaderName,
	})
	if err != nil {
		d.failTransform(w, urlPath, err)
		return
	}

	graphKind := "css"
	if kind == loader.KindCSSModule {
		graphKind = "css-module"
	}
	changed := d.recordModule(r.Context(), absPath, contents, graphKind, false)

	contentType := "text/css"
	if loaderName != cssPlainName {
		contentType = "application/javascript"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	setCacheHeader(w, changed)
	w.Write(result.Output.Code)
	logging.L().Sugar().Debugf("[dev] [css] %s %s -> 200 (%dms)", r.Method, urlPath, time.Since(start).Milliseconds())
}

// recordModule extracts static/dynamic dependency specifiers from source,
// resolves each against the module's own directory, and upserts the result
// into the Graph Store. Every resolved dependency's directory is subscribed
// in the Watcher so a later edit is observed. Returns whether the record
// call reported a change, which the X-Ionify-Cache header reflects per
// the design.
func (d *Dispatcher) recordModule(ctx context.Context, absPath string, contents []byte, kind string, refresh bool) bool {
	specs := importscan.Scan(contents)

	staticDeps := d.resolveAll(absPath, specs.Static)
	dynamicDeps := d.resolveAll(absPath, specs.Dynamic)

	for _, dep := range staticDeps {
		d.watch.Watch(filepath.Dir(dep)) //nolint:errcheck // best-effort; polling is the correctness backstop
	}
	for _, dep := range dynamicDeps {
		d.watch.Watch(filepath.Dir(dep))
	}

	changed, err := d.graph.Record(ctx, graph.Node{
		ID:              absPath,
		ContentHash:     hash.Bytes(contents),
		Kind:            kind,
		SupportsRefresh: refresh,
		Deps:            staticDeps,
		DynamicDeps:     dynamicDeps,
	})
	if err != nil {
		logging.L().Sugar().Warnf("[dev] graph record failed for %s: %v", absPath, err)
		return true
	}
	return changed
}

func (d *Dispatcher) resolveAll(importer string, specs []string) []string {
	var out []string
	for _, spec := range specs {
		if abs, ok := d.resolver.ResolveTolerant(importer, spec); ok {
			out = append(out, abs)
		}
	}
	return out
}

func setCacheHeader(w http.ResponseWriter, changed bool) {
	if changed {
		w.Header().Set("X-Ionify-Cache", "MISS")
	} else {
		w.Header().Set("X-Ionify-Cache", "HIT")
	}
}

func (d *Dispatcher) failTransform(w http.ResponseWriter, urlPath string, err error) {
	logging.L().Sugar().Warnf("[dev] transform error %s: %v", urlPath, err)
	d.hmr.BroadcastError(0, err.Error())
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// handleAsset serves a non-source file. With ?import it responds with an
// ESM shim exporting the asset's public URL instead of the raw bytes, per
// the design.
func (d *Dispatcher) handleAsset(w http.ResponseWriter, r *http.Request, urlPath, absPath string, start time.Time) {
	contents, err := os.ReadFile(absPath)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if _, err := d.graph.Record(r.Context(), graph.Node{ID: absPath, ContentHash: hash.Bytes(contents), Kind: "asset"}); err != nil {
		logging.L().Sugar().Warnf("[dev] graph record failed for %s: %v", absPath, err)
	}

	if r2query(r.URL.RawQuery)["import"] {
		publicURL, err := pathmap.PublicPathFor(d.root, absPath)
		if err != nil {
			http.Error(w, "bad path", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/javascript")
		fmt.Fprintf(w, "export default %q;\n", publicURL)
		return
	}

	http.ServeContent(w, r, filepath.Base(absPath), time.Time{}, bytes.NewReader(contents))
	logging.L().Sugar().Debugf("[dev] [asset] %s -> (%dms)", r.URL.Path, time.Since(start).Milliseconds())
}

func (d *Dispatcher) handleHTML(w http.ResponseWriter, r *http.Request, absPath string, start time.Time) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(injectHMRClient(data))
	logging.L().Sugar().Debugf("[dev] [html] %s -> 200 (%dms)", r.URL.Path, time.Since(start).Milliseconds())
}

const hmrClientTag = `<script type="module" src="` + ClientJSPath + `"></script>`

// injectHMRClient inserts a script tag loading the HMR client runtime right
// after <head>, or prepends it if the document has no head tag.
func injectHMRClient(html []byte) []byte {
	const needle = "<head>"
	if i := strings.Index(string(html), needle); i >= 0 {
		i += len(needle)
		out := make([]byte, 0, len(html)+len(hmrClientTag))
		out = append(out, html[:i]...)
		out = append(out, hmrClientTag...)
		out = append(out, html[i:]...)
		return out
	}
	return append([]byte(hmrClientTag), html...)
}

var envPlaceholderRe = regexp.MustCompile(`(?:process\.env|import\.meta\.env)\.([A-Za-z_][A-Za-z0-9_]*)`)

// applyEnvPlaceholders substitutes process.env.X / import.meta.env.X
// references with the JSON-encoded value of the corresponding OS
// environment variable, matching the "apply env-placeholder
// substitution" step. A variable with no value in the environment is left
// substituted with `undefined` rather than an empty string, matching how
// bundlers typically treat an unset define.
func applyEnvPlaceholders(code []byte) []byte {
	return envPlaceholderRe.ReplaceAllFunc(code, func(m []byte) []byte {
		sub := envPlaceholderRe.FindSubmatch(m)
		name := string(sub[1])
		val, ok := os.LookupEnv(name)
		if !ok {
			return []byte("undefined")
		}
		enc, err := json.Marshal(val)
		if err != nil {
			return []byte("undefined")
		}
		return enc
	})
}

// handleHMR upgrades the request to a Server-Sent Events stream fed by the
// HMR Coordinator, matching esmdev's handleSSE/text-event-stream
// pattern in esmdev/handlers.go.
func (d *Dispatcher) handleHMR(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")

	sub := d.hmr.Subscribe()
	defer d.hmr.Unsubscribe(sub)

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, ev hmr.Event) {
	payload := struct {
		ID      uint64              `json:"id,omitempty"`
		Ok      string              `json:"ok,omitempty"`
		Modules []hmr.ModuleSummary `json:"modules,omitempty"`
		Message string              `json:"message,omitempty"`
	}{ID: ev.ID, Modules: ev.Modules, Message: ev.Message}
	if ev.Type == hmr.EventReady {
		payload.Ok = "ok"
	}
	data, _ := json.Marshal(payload)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
}

type applyRequest struct {
	ID string `json:"id"`
}

type applyModuleResponse struct {
	URL    string   `json:"url"`
	Hash   string   `json:"hash,omitempty"`
	Deps   []string `json:"deps,omitempty"`
	Reason hmr.Reason `json:"reason"`
	Status string   `json:"status"`
	Code   string   `json:"code,omitempty"`
}

type applyResponse struct {
	Type      string                 `json:"type"`
	ID        string                 `json:"id"`
	Timestamp int64                  `json:"timestamp"`
	Modules   []applyModuleResponse `json:"modules"`
}

// handleApply implements POST /__ionify_hmr/apply: the client acknowledges
// a previously broadcast update summary and receives the actual payload,
// re-transforming each surviving module and reporting deletions as such
// the apply handshake.
func (d *Dispatcher) handleApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body applyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID == "" {
		http.Error(w, "malformed apply body", http.StatusBadRequest)
		return
	}
	id, err := strconv.ParseUint(body.ID, 10, 64)
	if err != nil {
		http.Error(w, "malformed apply id", http.StatusBadRequest)
		return
	}

	pending, ok := d.hmr.Consume(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	resp := applyResponse{Type: "update", ID: body.ID, Timestamp: time.Now().UnixMilli()}
	for _, m := range pending.Modules {
		resp.Modules = append(resp.Modules, d.applyOne(r.Context(), m))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (d *Dispatcher) applyOne(ctx context.Context, m hmr.ModuleUpdate) applyModuleResponse {
	if m.Reason == hmr.ReasonDeleted {
		return applyModuleResponse{URL: m.URL, Reason: m.Reason, Status: "deleted"}
	}

	contents, err := os.ReadFile(m.AbsPath)
	if err != nil {
		return applyModuleResponse{URL: m.URL, Reason: hmr.ReasonDeleted, Status: "deleted"}
	}

	kind := loader.KindJS
	loaderName := ""
	ext := strings.ToLower(filepath.Ext(m.AbsPath))
	if ext == ".css" {
		// No live request here, so only the .module.css filename
		// convention applies; ?inline/?module can't be recovered.
		loaderName, kind = cssMode("", m.AbsPath)
	}

	result, err := d.engine.Transform(ctx, transform.Request{Path: m.AbsPath, Contents: contents, Kind: kind, LoaderName: loaderName})
	if err != nil {
		return applyModuleResponse{URL: m.URL, Reason: m.Reason, Status: "error"}
	}

	node, _, _ := d.graph.Get(ctx, m.AbsPath)
	deps := make([]string, 0, len(node.Deps))
	for _, dep := range node.Deps {
		if u, err := pathmap.PublicPathFor(d.root, dep); err == nil {
			deps = append(deps, u)
		}
	}

	return applyModuleResponse{
		URL:    m.URL,
		Hash:   hash.Bytes(contents).String(),
		Deps:   deps,
		Reason: m.Reason,
		Status: "ok",
		Code:   string(applyEnvPlaceholders(result.Output.Code)),
	}
}

type errorReport struct {
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

// handleHMRErrorReport implements POST /__ionify_hmr/error: the client
// reports a runtime/apply failure so the server can log it and rebroadcast
// it to any other connected subscribers.
func (d *Dispatcher) handleHMRErrorReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body errorReport
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Message == "" {
		http.Error(w, "malformed error body", http.StatusBadRequest)
		return
	}

	var id uint64
	if body.ID != "" {
		id, _ = strconv.ParseUint(body.ID, 10, 64)
	}
	logging.L().Sugar().Warnf("[hmr] client-reported error (id=%s): %s", body.ID, body.Message)
	d.hmr.BroadcastError(id, body.Message)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// handleClientJS serves the browser-side HMR runtime: it subscribes to the
// event channel and POSTs apply on every update summary. It reloads the
// page when the apply request fails, when any returned module is deleted or
// not "ok", or when no React Refresh runtime (window.__REACT_REFRESH__) is
// present. The runtime does not evaluate the returned module code, so no
// module is swapped in place. Broadcast error events are logged to the
// console and do not trigger a reload.
func (d *Dispatcher) handleClientJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	w.Write([]byte(hmrClientRuntime))
}

const hmrClientRuntime = `
(() => {
	const source = new EventSource(` + "`" + SSEPath + "`" + `);
	window.__IONIFY_HMR__ = window.__IONIFY_HMR__ || {
		createContext(url) {
			return { accept() {} };
		},
	};
	source.addEventListener('update', async (ev) => {
		const summary = JSON.parse(ev.data);
		const res = await fetch(` + "`" + ApplyPath + "`" + `, {
			method: 'POST',
			headers: { 'Content-Type': 'application/json' },
			body: JSON.stringify({ id: String(summary.id) }),
		});
		if (!res.ok) { window.location.reload(); return; }
		const payload = await res.json();
		let needsReload = false;
		for (const mod of payload.modules) {
			if (mod.status !== 'ok' || mod.reason === 'deleted') { needsReload = true; continue; }
			const prev = window.__REACT_REFRESH__;
			if (!prev) needsReload = true;
		}
		if (needsReload) window.location.reload();
	});
	source.addEventListener('error', (ev) => {
		try {
			const payload = JSON.parse(ev.data);
			console.error('[ionify]', payload.message);
		} catch {}
	});
})();
`

// HandleChange reacts to a single watcher event: removes deleted nodes,
// re-reads and re-records a changed file, collects the reverse-transitive
// affected set via the Graph Store, and queues one batched HMR update
// (the "on any change event" step).
func (d *Dispatcher) HandleChange(ctx context.Context, ev watcher.Event) {
	if ev.Kind == watcher.Deleted {
		url, err := pathmap.PublicPathFor(d.root, ev.Path)
		if err != nil {
			return
		}
		// CollectAffected must run against the reverse index before Remove
		// deletes the deleted module's edges — Remove drops every
		// dependent's edge to it, so computing the affected set afterwards
		// would report no dependents at all.
		affected, err := d.graph.CollectAffected(ctx, []string{ev.Path})
		if err != nil {
			logging.L().Sugar().Warnf("[dev] collect_affected failed for %s: %v", ev.Path, err)
			return
		}
		if err := d.graph.Remove(ctx, ev.Path); err != nil {
			logging.L().Sugar().Warnf("[dev] graph remove failed for %s: %v", ev.Path, err)
		}
		modules := []hmr.ModuleUpdate{{AbsPath: ev.Path, URL: url, Reason: hmr.ReasonDeleted}}
		for _, id := range affected {
			if id == ev.Path {
				continue
			}
			modules = append(modules, d.dependentUpdate(ctx, id))
		}
		d.hmr.QueueUpdate(modules)
		return
	}

	contents, err := os.ReadFile(ev.Path)
	if err != nil {
		return
	}
	ext := strings.ToLower(filepath.Ext(ev.Path))
	kind := "asset"
	switch ext {
	case ".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs":
		kind = "js"
	case ".css":
		kind = "css"
	}
	refresh := false
	if kind == "js" {
		if result, err := d.engine.Transform(ctx, transform.Request{Path: ev.Path, Contents: contents, Kind: loader.KindJS}); err == nil {
			refresh = result.Output.SupportsRefresh
		}
	}
	d.recordModule(ctx, ev.Path, contents, kind, refresh)

	url, err := pathmap.PublicPathFor(d.root, ev.Path)
	if err != nil {
		return
	}
	affected, err := d.graph.CollectAffected(ctx, []string{ev.Path})
	if err != nil {
		logging.L().Sugar().Warnf("[dev] collect_affected failed for %s: %v", ev.Path, err)
		return
	}

	node, _, _ := d.graph.Get(ctx, ev.Path)
	modules := []hmr.ModuleUpdate{{
		AbsPath: ev.Path, URL: url, ContentHash: hash.Bytes(contents).String(),
		Reason: hmr.ReasonChanged, SupportsRefresh: node.SupportsRefresh,
	}}
	for _, id := range affected {
		if id == ev.Path {
			continue
		}
		modules = append(modules, d.dependentUpdate(ctx, id))
	}
	d.hmr.QueueUpdate(modules)
}

// dependentUpdate builds a PendingUpdate entry for a module affected only
// transitively: its content hash is reused from the graph rather than
// recomputed.
func (d *Dispatcher) dependentUpdate(ctx context.Context, id string) hmr.ModuleUpdate {
	url, err := pathmap.PublicPathFor(d.root, id)
	if err != nil {
		url = id
	}
	node, found, _ := d.graph.Get(ctx, id)
	if !found {
		return hmr.ModuleUpdate{AbsPath: id, URL: url, Reason: hmr.ReasonDependent}
	}
	return hmr.ModuleUpdate{
		AbsPath: id, URL: url, ContentHash: node.ContentHash.String(),
		Reason: hmr.ReasonDependent, SupportsRefresh: node.SupportsRefresh,
	}
}

// Shutdown gracefully stops background loops (watcher, hmr) within a hard
// 3-second budget, matching the graceful-shutdown deadline.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.hmr.Close()
		d.watch.CloseAll()
	}()

	deadline, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	select {
	case <-done:
		return nil
	case <-deadline.Done():
		return deadline.Err()
	}
}
