package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocktally/stocktally/internal/domain/ingest/repository"
	"github.com/stocktally/stocktally/internal/domain/ingest/service"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewIngestService(repository.NewMemoryIngestRepository(), logger)
	h := NewIngestHandler(svc, logger)

	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func uploadCSV(t *testing.T, srv *httptest.Server, fileName, content string, fields map[string]string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/v1/files", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

const inventoryCSV = "L.p.,Nr indeksu,Nazwa towaru,Ilość,JMZ\n" +
	"1,RAW001,Mąka pszenna,50,kg\n" +
	"2,RAW002,Cukier,10,kg\n"

func TestUploadFile_AutoDetect(t *testing.T) {
	srv := newTestServer(t)

	resp := uploadCSV(t, srv, "stock.csv", inventoryCSV, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result service.IngestResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, 2, result.LineItemCount)
	assert.Equal(t, "stock.csv", result.FileName)

	aggResp, err := http.Get(srv.URL + "/v1/aggregates")
	require.NoError(t, err)
	defer aggResp.Body.Close()

	var aggs []repository.AggregatedItem
	require.NoError(t, json.NewDecoder(aggResp.Body).Decode(&aggs))
	assert.Len(t, aggs, 2)
}

func TestUploadFile_DetectionFailureCarriesSuggestions(t *testing.T) {
	srv := newTestServer(t)

	resp := uploadCSV(t, srv, "mystery.csv", "Col1,Col2,Col3\nx,y,z\n", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "detection")
}

func TestUploadFile_ExplicitRoleMap(t *testing.T) {
	srv := newTestServer(t)

	roleMap := `{"itemIdCol":-1,"nameCol":0,"quantityCol":1,"unitCol":2,"lineNumberCol":-1}`
	resp := uploadCSV(t, srv, "plain.csv", "A,B,C\nFlour,5,kg\n", map[string]string{"roleMap": roleMap})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

type failingLookupRepo struct {
	*repository.MemoryIngestRepository
}

func (r *failingLookupRepo) FindMappingByHeadersKey(context.Context, string) (*repository.StoredMapping, error) {
	return nil, errors.New("connection refused")
}

func TestUploadFile_MappingLookupErrorFallsBackToDetection(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))
	svc := service.NewIngestService(&failingLookupRepo{repository.NewMemoryIngestRepository()}, logger)
	h := NewIngestHandler(svc, logger)

	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	resp := uploadCSV(t, srv, "stock.csv", inventoryCSV, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Contains(t, logBuf.String(), "stored mapping lookup failed")
}

func TestDeleteFile_RoundTrip(t *testing.T) {
	srv := newTestServer(t)

	resp := uploadCSV(t, srv, "stock.csv", inventoryCSV, nil)
	var result service.IngestResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/v1/files/%s", srv.URL, result.FileID), nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	aggResp, err := http.Get(srv.URL + "/v1/aggregates")
	require.NoError(t, err)
	defer aggResp.Body.Close()
	var aggs []repository.AggregatedItem
	require.NoError(t, json.NewDecoder(aggResp.Body).Decode(&aggs))
	assert.Empty(t, aggs)
}

func TestDeleteFile_Unknown(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/files/a2e7cfd2-7bd8-4b39-90f8-ac7f65f8b4b2", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDetectColumns_JSON(t *testing.T) {
	srv := newTestServer(t)

	body := `{"headers":["L.p.","Nr indeksu","Nazwa towaru","Ilość","JMZ"]}`
	resp, err := http.Post(srv.URL+"/v1/detect", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Confidence float64 `json:"confidence"`
		RoleMap    struct {
			NameCol int `json:"nameCol"`
		} `json:"roleMap"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Greater(t, result.Confidence, 0.7)
	assert.Equal(t, 2, result.RoleMap.NameCol)
}

func TestManualEntry(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/entries", "application/json",
		strings.NewReader(`{"name":"Drożdże","quantity":3,"unit":"kg"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var agg repository.AggregatedItem
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&agg))
	assert.Equal(t, 3.0, agg.Quantity)
	assert.Empty(t, agg.SourceFiles)
}

func TestManualEntry_Invalid(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/entries", "application/json",
		strings.NewReader(`{"name":"","quantity":1,"unit":"kg"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExportAggregatedCSV(t *testing.T) {
	srv := newTestServer(t)

	resp := uploadCSV(t, srv, "stock.csv", inventoryCSV, nil)
	resp.Body.Close()

	expResp, err := http.Get(srv.URL + "/v1/export/aggregated?format=csv")
	require.NoError(t, err)
	defer expResp.Body.Close()
	require.Equal(t, http.StatusOK, expResp.StatusCode)
	assert.Equal(t, "text/csv", expResp.Header.Get("Content-Type"))

	body, err := io.ReadAll(expResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Mąka pszenna")
}

func TestMappingLifecycle(t *testing.T) {
	srv := newTestServer(t)

	create := `{"name":"standard","roleMap":{"itemIdCol":1,"nameCol":2,"quantityCol":3,"unitCol":4,"lineNumberCol":0},"isDefault":true}`
	resp, err := http.Post(srv.URL+"/v1/mappings", "application/json", strings.NewReader(create))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var m repository.StoredMapping
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	resp.Body.Close()

	// Defaults cannot be deleted.
	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/v1/mappings/%s", srv.URL, m.ID), nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusConflict, delResp.StatusCode)

	listResp, err := http.Get(srv.URL + "/v1/mappings")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var listed []repository.StoredMapping
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&listed))
	require.Len(t, listed, 1)
	assert.True(t, listed[0].IsDefault)
}

func TestMappingCreate_Invalid(t *testing.T) {
	srv := newTestServer(t)

	create := `{"name":"broken","roleMap":{"itemIdCol":-1,"nameCol":-1,"quantityCol":1,"unitCol":2,"lineNumberCol":-1}}`
	resp, err := http.Post(srv.URL+"/v1/mappings", "application/json", strings.NewReader(create))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
