package tests

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	. "github.com/trezcool/bilan/apps/api/echo"
	"github.com/trezcool/bilan/core"
	"github.com/trezcool/bilan/core/bpf"
	dummydb "github.com/trezcool/bilan/storage/database/dummy"
	"github.com/trezcool/bilan/tests"
)

const year = 2023

// setup returns a server backed by an in-memory source holding the reference dataset under "acme"
// and a clean dataset under "clean".
func setup(t *testing.T) (*Server, *dummydb.DB, *testutil.Logger) {
	t.Helper()
	conf := core.NewTestConfig()
	logger := testutil.NewLogger()

	db, src := testutil.NewMemorySource(
		testutil.ReferenceDataset("acme", year),
		testutil.CleanDataset("clean", year),
	)

	validate := validator.New()
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	core.InitValidators(validate, translator)
	bpf.InitValidators(validate, translator, conf.BPF.MinYear)

	server := NewServer(ServerDeps{
		Conf:       conf,
		Logger:     logger,
		BPFSvc:     bpf.NewService(src, conf, logger),
		Validate:   validate,
		Translator: translator,
		Metrics:    NewMetrics(),
	})
	return server, db, logger
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	path     string
	wantCode int
	wantData []byte
}

func newRequest(method, path string) (*http.Request, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	return req, rec
}

func marshallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
