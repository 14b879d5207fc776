// Package handlers implements the acquisition request handler: HTTP
// parsing for both field-name families, tiered cache coordination, the
// update-selection engine, and asynchronous metrics dispatch.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	apierrors "github.com/vitaliisemenov/codepush-acquisition/internal/api/errors"
	apimiddleware "github.com/vitaliisemenov/codepush-acquisition/internal/api/middleware"
	"github.com/vitaliisemenov/codepush-acquisition/internal/cachekey"
	"github.com/vitaliisemenov/codepush-acquisition/internal/core"
	"github.com/vitaliisemenov/codepush-acquisition/internal/selection"
	"github.com/vitaliisemenov/codepush-acquisition/internal/version"
	"github.com/vitaliisemenov/codepush-acquisition/pkg/acquisition/cache"
)

// Handler implements the acquisition endpoints: update check (legacy and
// current field shapes), deploy/download reporting, and health.
type Handler struct {
	store        core.ReleaseHistoryStore
	microcache   *cache.Microcache
	diffMicro    *cache.Microcache
	distributed  *cache.Distributed
	metrics      core.MetricsStore
	cacheSchema  string
	proxyBaseURL string
	logger       *slog.Logger
}

// Config configures a Handler.
type Config struct {
	Store        core.ReleaseHistoryStore
	Microcache   *cache.Microcache
	DiffMicro    *cache.Microcache
	Distributed  *cache.Distributed
	Metrics      core.MetricsStore
	CacheSchema  string
	ProxyBaseURL string
	Logger       *slog.Logger
}

// NewHandler constructs a Handler from its explicit dependencies. The two
// cache clients, the storage backend, and the metrics store are all
// process-wide singletons injected here rather than discovered globally.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:        cfg.Store,
		microcache:   cfg.Microcache,
		diffMicro:    cfg.DiffMicro,
		distributed:  cfg.Distributed,
		metrics:      cfg.Metrics,
		cacheSchema:  cfg.CacheSchema,
		proxyBaseURL: cfg.ProxyBaseURL,
		logger:       logger,
	}
}

func queryValue(q map[string][]string, camel, snake string) string {
	if v, ok := q[camel]; ok && len(v) > 0 {
		return v[0]
	}
	if v, ok := q[snake]; ok && len(v) > 0 {
		return v[0]
	}
	return ""
}

func parseBoolLoose(s string) bool {
	b, _ := strconv.ParseBool(strings.ToLower(strings.TrimSpace(s)))
	return b
}

// parseUpdateCheckRequest resolves the dual-naming query parameters into a
// canonical UpdateCheckRequest.
func parseUpdateCheckRequest(r *http.Request) (*core.UpdateCheckRequest, error) {
	q := r.URL.Query()

	deploymentKey := queryValue(q, "deploymentKey", "deployment_key")
	if deploymentKey == "" {
		return nil, core.ErrMissingDeploymentKey
	}

	rawAppVersion := queryValue(q, "appVersion", "app_version")
	if rawAppVersion == "" {
		return nil, core.ErrMissingAppVersion
	}
	normalized := version.Normalize(rawAppVersion)

	req := &core.UpdateCheckRequest{
		DeploymentKey:        deploymentKey,
		RawAppVersion:        rawAppVersion,
		NormalizedAppVersion: normalized,
		PackageHash:          queryValue(q, "packageHash", "package_hash"),
		Label:                queryValue(q, "label", "label"),
		ClientUniqueID:       queryValue(q, "clientUniqueId", "client_unique_id"),
		IsCompanion:          parseBoolLoose(queryValue(q, "isCompanion", "is_companion")),
		Beta:                 parseBoolLoose(queryValue(q, "beta", "beta")),
		OriginalURL:          r.URL.String(),
	}
	return req, nil
}

// UpdateCheck implements GET /updateCheck and GET
// /v0.1/public/codepush/update_check. newShape selects snake_case response
// rendering.
func (h *Handler) UpdateCheck(newShape bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := apimiddleware.GetRequestID(ctx)

		req, err := parseUpdateCheckRequest(r)
		if err != nil {
			apierrors.WriteError(w, apierrors.ValidationError(err.Error()).WithRequestID(requestID))
			return
		}
		if err := apimiddleware.ValidateStruct(req); err != nil {
			apierrors.WriteError(w, apierrors.ValidationError("invalid update check request").
				WithDetails(apimiddleware.FormatValidationErrors(err)).
				WithRequestID(requestID))
			return
		}

		distributedKey := req.DeploymentKey
		urlKey, err := cachekey.Build(req.OriginalURL, h.cacheSchema)
		if err != nil {
			apierrors.WriteError(w, apierrors.ValidationError("malformed request URL").WithRequestID(requestID))
			return
		}
		memKey := distributedKey + "|" + urlKey

		diffFetcher := h.makeDiffMapFetcher(distributedKey)

		if cached, ok := h.microcache.Get(memKey); ok {
			body := cached.(core.ReleaseSet)
			info := selection.Select(ctx, body.Releases, toSelectionRequest(req), diffFetcher, time.Now(), h.logger)
			h.applyProxy(info)
			h.writeUpdateInfo(w, info, newShape)
			return
		}

		var body core.ReleaseSet
		fromDistributed := false
		if cachedResp, ok := h.distributed.GetResponse(ctx, distributedKey, urlKey); ok {
			body = cachedResp.Body
			fromDistributed = true
		} else {
			releases, err := h.store.GetPackageHistory(ctx, req.DeploymentKey)
			if err != nil {
				h.logger.Error("release history lookup failed", "request_id", requestID, "deploymentKey", req.DeploymentKey, "error", err)
				apierrors.WriteError(w, apierrors.ServiceUnavailableError("release history storage").WithRequestID(requestID))
				return
			}
			body = h.buildCacheableResponse(ctx, req.DeploymentKey, releases)
		}

		info := selection.Select(ctx, body.Releases, toSelectionRequest(req), diffFetcher, time.Now(), h.logger)
		h.applyProxy(info)
		h.writeUpdateInfo(w, info, newShape)

		h.microcache.Set(memKey, body)
		if !fromDistributed {
			h.distributed.SetResponse(ctx, distributedKey, urlKey, &core.CacheableResponse{StatusCode: http.StatusOK, Body: body})
		}
	}
}

func (h *Handler) applyProxy(info *core.UpdateInfo) {
	if info == nil || info.DownloadURL == "" || h.proxyBaseURL == "" {
		return
	}
	info.DownloadURL = selection.ApplyProxy(info.DownloadURL, h.proxyBaseURL)
}

func toSelectionRequest(req *core.UpdateCheckRequest) selection.Request {
	return selection.Request{
		ClientUniqueID:       req.ClientUniqueID,
		BetaRequested:        req.Beta,
		RequestLabel:         req.Label,
		RequestPackageHash:   req.PackageHash,
		RawAppVersion:        req.RawAppVersion,
		NormalizedAppVersion: req.NormalizedAppVersion,
		RequestIsCompanion:   req.IsCompanion,
	}
}

// buildCacheableResponse filters the full release history down to releases
// whose appVersion range is a syntactically valid semver constraint (a
// malformed range could never match any request) and primes the
// distributed diff-map cache for every release carrying a diff package
// map.
func (h *Handler) buildCacheableResponse(ctx context.Context, deploymentKey string, releases []*core.Release) core.ReleaseSet {
	filtered := make([]*core.Release, 0, len(releases))
	for _, rel := range releases {
		if _, err := semver.NewConstraint(rel.AppVersion); err != nil {
			h.logger.Warn("dropping release with unparseable appVersion range",
				"deploymentKey", deploymentKey, "label", rel.Label, "appVersion", rel.AppVersion)
			continue
		}
		filtered = append(filtered, rel)

		if len(rel.DiffPackageMap) > 0 {
			h.distributed.SetDiffMap(ctx, deploymentKey, rel.PackageHash, rel.DiffPackageMap)
		}
	}
	return core.ReleaseSet{Releases: filtered}
}

// makeDiffMapFetcher returns a closure bound to deploymentKey that
// consults a process-local microcache before falling back to the
// distributed diff-map cache, memoizing a distributed hit; a distributed
// miss is not memoized.
func (h *Handler) makeDiffMapFetcher(deploymentKey string) selection.DiffMapFetcher {
	return func(ctx context.Context, targetPackageHash string) (core.DiffMap, error) {
		key := deploymentKey + ":" + targetPackageHash
		if v, ok := h.diffMicro.Get(key); ok {
			if dm, ok2 := v.(core.DiffMap); ok2 {
				return dm, nil
			}
		}
		dm, ok := h.distributed.GetDiffMap(ctx, deploymentKey, targetPackageHash)
		if !ok {
			return core.DiffMap{}, nil
		}
		h.diffMicro.Set(key, dm)
		return dm, nil
	}
}

func (h *Handler) writeUpdateInfo(w http.ResponseWriter, info *core.UpdateInfo, newShape bool) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if newShape {
		if err := json.NewEncoder(w).Encode(map[string]any{"update_info": renderSnakeCase(info)}); err != nil {
			h.logger.Error("failed to encode update-check response", "error", err)
		}
		return
	}
	if err := json.NewEncoder(w).Encode(core.UpdateCheckResponse{UpdateInfo: info}); err != nil {
		h.logger.Error("failed to encode update-check response", "error", err)
	}
}

// renderSnakeCase performs the shallow camelCase-to-snake_case key
// conversion the new API route requires.
func renderSnakeCase(info *core.UpdateInfo) map[string]any {
	out := map[string]any{
		"is_available":        info.IsAvailable,
		"is_mandatory":        info.IsMandatory,
		"app_version":         info.AppVersion,
		"target_binary_range": info.TargetBinaryRange,
		"update_app_version":  info.UpdateAppVersion,
	}
	if info.PackageHash != "" {
		out["package_hash"] = info.PackageHash
	}
	if info.Label != "" {
		out["label"] = info.Label
	}
	if info.Description != "" {
		out["description"] = info.Description
	}
	if info.DownloadURL != "" {
		out["download_url"] = info.DownloadURL
	}
	if info.PackageSize != 0 {
		out["package_size"] = info.PackageSize
	}
	return out
}

// sdkVersionHeader carries the calling SDK's semver version, used to gate
// which metrics path a report-deploy request takes.
const sdkVersionHeader = "X-CodePush-SDK-Version"

func bodyValue(m map[string]any, camel, snake string) string {
	if v, ok := m[camel]; ok {
		if s, ok2 := v.(string); ok2 {
			return s
		}
	}
	if v, ok := m[snake]; ok {
		if s, ok2 := v.(string); ok2 {
			return s
		}
	}
	return ""
}

func parseReportDeployRequest(r *http.Request) (*core.ReportDeployRequest, error) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, core.ErrMissingDeploymentKey
	}

	deploymentKey := bodyValue(raw, "deploymentKey", "deployment_key")
	if deploymentKey == "" {
		return nil, core.ErrMissingDeploymentKey
	}
	appVersion := bodyValue(raw, "appVersion", "app_version")
	if appVersion == "" {
		return nil, core.ErrMissingAppVersion
	}

	return &core.ReportDeployRequest{
		DeploymentKey:             deploymentKey,
		AppVersion:                appVersion,
		Label:                     bodyValue(raw, "label", "label"),
		Status:                    bodyValue(raw, "status", "status"),
		ClientUniqueID:            bodyValue(raw, "clientUniqueId", "client_unique_id"),
		PreviousDeploymentKey:     bodyValue(raw, "previousDeploymentKey", "previous_deployment_key"),
		PreviousLabelOrAppVersion: bodyValue(raw, "previousLabelOrAppVersion", "previous_label_or_app_version"),
	}, nil
}

func parseReportDownloadRequest(r *http.Request) (*core.ReportDownloadRequest, error) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, core.ErrMissingDeploymentKey
	}

	deploymentKey := bodyValue(raw, "deploymentKey", "deployment_key")
	if deploymentKey == "" {
		return nil, core.ErrMissingDeploymentKey
	}
	label := bodyValue(raw, "label", "label")
	if label == "" {
		return nil, core.ErrMissingLabel
	}

	return &core.ReportDownloadRequest{DeploymentKey: deploymentKey, Label: label}, nil
}

// usesNewMetricsPath reports whether the calling SDK's version (from
// sdkVersionHeader) parses as semver and is >= core.MetricsBreakingVersion.
// Any missing or unparseable header routes to the legacy path.
func usesNewMetricsPath(r *http.Request) bool {
	raw := r.Header.Get(sdkVersionHeader)
	if raw == "" {
		return false
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return false
	}
	breaking, err := semver.NewVersion(core.MetricsBreakingVersion)
	if err != nil {
		return false
	}
	return v.Compare(breaking) >= 0
}

// ReportDeploy implements POST /reportStatus/deploy and POST
// /v0.1/public/codepush/report_status/deploy.
func (h *Handler) ReportDeploy() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := apimiddleware.GetRequestID(ctx)

		req, err := parseReportDeployRequest(r)
		if err != nil {
			apierrors.WriteError(w, apierrors.ValidationError(err.Error()).WithRequestID(requestID))
			return
		}
		if err := apimiddleware.ValidateStruct(req); err != nil {
			apierrors.WriteError(w, apierrors.ValidationError("invalid deploy report").
				WithDetails(apimiddleware.FormatValidationErrors(err)).
				WithRequestID(requestID))
			return
		}

		if usesNewMetricsPath(r) {
			h.reportDeployNewPath(w, req, requestID)
			return
		}

		if req.ClientUniqueID == "" {
			apierrors.WriteError(w, apierrors.ValidationError(core.ErrMissingClientUniqueID.Error()).WithRequestID(requestID))
			return
		}
		h.reportDeployLegacyPath(w, req, requestID)
	}
}

// reportDeployNewPath responds immediately, then asynchronously either
// increments a labeled-failure counter or records a successful/unlabeled
// update, finally clearing the client's previous active-label entry.
func (h *Handler) reportDeployNewPath(w http.ResponseWriter, req *core.ReportDeployRequest, requestID string) {
	w.WriteHeader(http.StatusOK)

	go func() {
		ctx := context.Background()
		if req.Label != "" && req.Status == core.StatusDeploymentFailed {
			h.metrics.IncrementLabelStatusCount(ctx, req.DeploymentKey, req.Label, core.StatusDeploymentFailed)
		} else {
			h.metrics.RecordUpdate(ctx, req.DeploymentKey, req.Label, req.PreviousDeploymentKey, req.PreviousLabelOrAppVersion)
		}
		if req.ClientUniqueID != "" {
			prevKey := req.PreviousDeploymentKey
			if prevKey == "" {
				prevKey = req.DeploymentKey
			}
			h.metrics.RemoveDeploymentKeyClientActiveLabel(ctx, prevKey, req.ClientUniqueID)
		}
	}()
}

// reportDeployLegacyPath reads the client's current active label, then
// conditionally increments counters and updates the active-label mapping,
// all asynchronously after the response has already been sent.
func (h *Handler) reportDeployLegacyPath(w http.ResponseWriter, req *core.ReportDeployRequest, requestID string) {
	w.WriteHeader(http.StatusOK)

	go func() {
		ctx := context.Background()
		previousLabel, err := h.metrics.GetCurrentActiveLabel(ctx, req.DeploymentKey, req.ClientUniqueID)
		if err != nil {
			h.logger.Warn("failed to read current active label", "request_id", requestID, "error", err)
		}

		if req.Label != "" && req.Status == core.StatusDeploymentFailed {
			h.metrics.IncrementLabelStatusCount(ctx, req.DeploymentKey, req.Label, core.StatusDeploymentFailed)
			return
		}

		h.metrics.UpdateActiveAppForClient(ctx, req.DeploymentKey, req.ClientUniqueID, req.Label, previousLabel)
		if req.Label != "" {
			h.metrics.IncrementLabelStatusCount(ctx, req.DeploymentKey, req.Label, core.StatusDeploymentSucceeded)
		}
	}()
}

// ReportDownload implements POST /reportStatus/download and POST
// /v0.1/public/codepush/report_status/download.
func (h *Handler) ReportDownload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := apimiddleware.GetRequestID(ctx)

		req, err := parseReportDownloadRequest(r)
		if err != nil {
			apierrors.WriteError(w, apierrors.ValidationError(err.Error()).WithRequestID(requestID))
			return
		}
		if err := apimiddleware.ValidateStruct(req); err != nil {
			apierrors.WriteError(w, apierrors.ValidationError("invalid download report").
				WithDetails(apimiddleware.FormatValidationErrors(err)).
				WithRequestID(requestID))
			return
		}

		w.WriteHeader(http.StatusOK)

		go func() {
			h.metrics.IncrementLabelStatusCount(context.Background(), req.DeploymentKey, req.Label, core.StatusDownloaded)
		}()
	}
}

// Health implements GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.store.Health(ctx); err != nil {
		h.logger.Error("storage health check failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Unhealthy"))
		return
	}
	if err := h.distributed.Ping(ctx); err != nil {
		h.logger.Error("cache health check failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Unhealthy"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Healthy"))
}
