package lake

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	testLakeID    = "ocid1.lake.oc1.iad.aaaaexample"
	testNamespace = "lakens"
	testBucket    = "lakebucket"
)

type parCall struct {
	access AccessType
	object string
}

// fakeLake serves the lake control plane, the sharing service and PAR object
// storage from one server.
type fakeLake struct {
	srv *httptest.Server

	mu           sync.Mutex
	healthy      bool
	healthChecks int
	mountQueries []url.Values
	pars         []parCall
	issued       map[string]bool
	objects      map[string][]byte
	uploads      map[string]map[int][]byte
	committed    [][]int
	aborted      []string
	renames      []RenameObjectDetails
	requests     int
}

func newFakeLake(t *testing.T) *fakeLake {
	f := &fakeLake{
		healthy: true,
		issued:  map[string]bool{},
		objects: map[string][]byte{},
		uploads: map[string]map[int][]byte{},
	}
	f.srv = httptest.NewServer(f)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeLake) options() Options {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return Options{
		Endpoints: Endpoints{Lakehouse: f.srv.URL, ObjectStorage: f.srv.URL},
		Transport: TransportOptions{
			RetryMax:     1,
			RetryWaitMin: time.Millisecond,
			RetryWaitMax: 2 * time.Millisecond,
		},
		Logger: logger,
	}
}

func (f *fakeLake) parCalls() []parCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]parCall(nil), f.pars...)
}

func (f *fakeLake) resetPARs() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pars = nil
}

func (f *fakeLake) setHealthy(ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = ok
}

func (f *fakeLake) checks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthChecks
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeServiceError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, serviceError{Code: code, Message: code})
}

func etagOf(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func (f *fakeLake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++

	path := r.URL.EscapedPath()
	switch {
	case strings.HasPrefix(path, lakehouseBasePath+"/lakes/"):
		f.lakehouse(w, r, strings.Split(strings.TrimPrefix(path, lakehouseBasePath+"/lakes/"), "/"))
	case path == sharingBasePath+"/isHealthy":
		f.healthChecks++
		if f.healthy {
			w.WriteHeader(http.StatusOK)
			return
		}
		writeServiceError(w, http.StatusServiceUnavailable, "ServiceUnavailable")
	case path == sharingBasePath+"/par":
		q := r.URL.Query()
		if r.Header.Get("x-oci-lakeshare-op") != q.Get("x_oci_lakeshare_op") {
			writeServiceError(w, http.StatusBadRequest, "InvalidParameter")
			return
		}
		call := parCall{access: AccessType(q.Get("x_oci_lakeshare_op")), object: q.Get("object")}
		f.pars = append(f.pars, call)
		hash := fmt.Sprintf("par-%d", len(f.pars))
		f.issued[hash] = true
		writeJSON(w, http.StatusOK, PAR{Hash: hash, PrefixPath: call.object, Type: string(call.access)})
	case path == sharingBasePath+"/renameObject":
		var details RenameObjectDetails
		if err := json.NewDecoder(r.Body).Decode(&details); err != nil {
			writeServiceError(w, http.StatusBadRequest, "CannotParseRequest")
			return
		}
		q := r.URL.Query()
		src := q.Get("namespace") + "/" + q.Get("bucket") + "/" + details.SourceName
		data, ok := f.objects[src]
		if !ok {
			writeServiceError(w, http.StatusNotFound, "ObjectNotFound")
			return
		}
		delete(f.objects, src)
		f.objects[q.Get("namespace")+"/"+q.Get("bucket")+"/"+details.NewName] = data
		f.renames = append(f.renames, details)
		w.WriteHeader(http.StatusOK)
	case strings.HasPrefix(path, "/p/"):
		f.object(w, r, strings.Split(strings.TrimPrefix(path, "/p/"), "/"))
	default:
		writeServiceError(w, http.StatusNotFound, "NotFound")
	}
}

func (f *fakeLake) lakehouse(w http.ResponseWriter, r *http.Request, segs []string) {
	lakeID, _ := url.PathUnescape(segs[0])
	switch {
	case len(segs) == 1:
		writeJSON(w, http.StatusOK, Lake{ID: lakeID, LakeshareEndpoint: f.srv.URL})
	case len(segs) == 3 && segs[1] == "lakeMounts":
		f.mountQueries = append(f.mountQueries, r.URL.Query())
		name, _ := url.PathUnescape(segs[2])
		if name == "missing" {
			writeServiceError(w, http.StatusNotFound, "NotAuthorizedOrNotFound")
			return
		}
		writeJSON(w, http.StatusOK, Mount{
			Key:       name,
			MountType: r.URL.Query().Get("mountType"),
			LakeID:    lakeID,
			MountSpec: MountSpec{Namespace: testNamespace, BucketName: testBucket},
		})
	default:
		writeServiceError(w, http.StatusNotFound, "NotFound")
	}
}

// object serves /p/{hash}/n/{ns}/b/{bucket}/(o|u)[/{key}[/id/{upload}[/{part}]]].
func (f *fakeLake) object(w http.ResponseWriter, r *http.Request, segs []string) {
	if len(segs) < 6 || segs[1] != "n" || segs[3] != "b" || !f.issued[segs[0]] {
		writeServiceError(w, http.StatusUnauthorized, "NotAuthenticated")
		return
	}
	bucketPath := segs[2] + "/" + segs[4] + "/"
	if segs[5] == "o" && len(segs) == 6 {
		f.list(w, r, bucketPath)
		return
	}
	if len(segs) < 7 {
		writeServiceError(w, http.StatusBadRequest, "InvalidParameter")
		return
	}
	key, _ := url.PathUnescape(segs[6])
	full := bucketPath + key

	if segs[5] == "u" {
		f.upload(w, r, full, segs[7:])
		return
	}

	switch r.Method {
	case http.MethodHead:
		data, ok := f.objects[full]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("ETag", `"`+etagOf(data)+`"`)
		w.Header().Set("opc-meta-owner", "lake")
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[full]
		if !ok {
			writeServiceError(w, http.StatusNotFound, "ObjectNotFound")
			return
		}
		if rng := r.Header.Get("Range"); rng != "" {
			var start, end int
			if _, err := fmt.Sscanf(rng, "bytes=%d-%d", &start, &end); err != nil {
				writeServiceError(w, http.StatusBadRequest, "InvalidRange")
				return
			}
			if end >= len(data) {
				end = len(data) - 1
			}
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(data[start : end+1])
			return
		}
		_, _ = w.Write(data)
	case http.MethodPut:
		if r.Header.Get("opc-multipart") == "true" {
			id := fmt.Sprintf("upload-%d", len(f.uploads)+1)
			f.uploads[id] = map[int][]byte{}
			writeJSON(w, http.StatusOK, map[string]string{"uploadId": id, "object": key})
			return
		}
		data, _ := io.ReadAll(r.Body)
		f.objects[full] = data
		w.Header().Set("ETag", `"`+etagOf(data)+`"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		if _, ok := f.objects[full]; !ok {
			writeServiceError(w, http.StatusNotFound, "ObjectNotFound")
			return
		}
		delete(f.objects, full)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeServiceError(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
	}
}

func (f *fakeLake) upload(w http.ResponseWriter, r *http.Request, full string, rest []string) {
	switch {
	case r.Method == http.MethodDelete && len(rest) == 0:
		id := r.URL.Query().Get("uploadId")
		if _, ok := f.uploads[id]; !ok {
			writeServiceError(w, http.StatusNotFound, "NoSuchUpload")
			return
		}
		delete(f.uploads, id)
		f.aborted = append(f.aborted, id)
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodPut && len(rest) == 3 && rest[0] == "id":
		parts, ok := f.uploads[rest[1]]
		if !ok {
			writeServiceError(w, http.StatusNotFound, "NoSuchUpload")
			return
		}
		num, _ := strconv.Atoi(rest[2])
		data, _ := io.ReadAll(r.Body)
		parts[num] = data
		w.Header().Set("ETag", fmt.Sprintf(`"etag-%d"`, num))
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPost && len(rest) == 2 && rest[0] == "id":
		parts, ok := f.uploads[rest[1]]
		if !ok {
			writeServiceError(w, http.StatusNotFound, "NoSuchUpload")
			return
		}
		var body struct {
			PartsToCommit []partToCommit `json:"partsToCommit"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeServiceError(w, http.StatusBadRequest, "CannotParseRequest")
			return
		}
		var order []int
		var data []byte
		for _, p := range body.PartsToCommit {
			order = append(order, p.PartNum)
			data = append(data, parts[p.PartNum]...)
		}
		f.committed = append(f.committed, order)
		f.objects[full] = data
		delete(f.uploads, rest[1])
		w.Header().Set("ETag", `"`+etagOf(data)+`"`)
		w.WriteHeader(http.StatusOK)
	default:
		writeServiceError(w, http.StatusBadRequest, "InvalidParameter")
	}
}

func (f *fakeLake) list(w http.ResponseWriter, r *http.Request, bucketPath string) {
	q := r.URL.Query()
	prefix, delim := q.Get("prefix"), q.Get("delimiter")
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, bucketPath+prefix) {
			keys = append(keys, strings.TrimPrefix(k, bucketPath))
		}
	}
	sort.Strings(keys)

	var out listObjectsBody
	seen := map[string]bool{}
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		if i := strings.Index(rest, delim); delim != "" && i >= 0 {
			p := prefix + rest[:i+1]
			if !seen[p] {
				seen[p] = true
				out.Prefixes = append(out.Prefixes, p)
			}
			continue
		}
		out.Objects = append(out.Objects, listedObject{Name: k, Size: int64(len(f.objects[bucketPath+k]))})
	}
	writeJSON(w, http.StatusOK, out)
}
