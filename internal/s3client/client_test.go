package s3client

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocifs/ocifs-go/internal/credentials"
	"github.com/ocifs/ocifs-go/internal/fserrors"
	"github.com/ocifs/ocifs-go/internal/objectstore"
)

// fakeS3 serves the handful of path-style S3 calls the client makes.
type fakeS3 struct {
	mu        sync.Mutex
	objects   map[string][]byte
	parts     map[string]map[int][]byte
	committed [][]int
	ranges    []string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, parts: map[string]map[int][]byte{}}
}

type completeBody struct {
	Parts []struct {
		ETag       string `xml:"ETag"`
		PartNumber int    `xml:"PartNumber"`
	} `xml:"Part"`
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`, code, code)
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")
	q := r.URL.Query()

	switch {
	case r.Method == http.MethodGet && key == "" && q.Get("list-type") == "2":
		f.list(w, bucket, q.Get("prefix"), q.Get("delimiter"))

	case r.Method == http.MethodHead:
		data, ok := f.objects[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("ETag", `"etag-`+key+`"`)
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodGet:
		data, ok := f.objects[path]
		if !ok {
			writeError(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		if rng := r.Header.Get("Range"); rng != "" {
			f.ranges = append(f.ranges, rng)
			var start, end int
			fmt.Sscanf(rng, "bytes=%d-%d", &start, &end)
			if end >= len(data) {
				end = len(data) - 1
			}
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(data[start : end+1])
			return
		}
		w.Write(data)

	case r.Method == http.MethodPost && q.Has("uploads"):
		f.parts["up-"+key] = map[int][]byte{}
		fmt.Fprintf(w, `<InitiateMultipartUploadResult><Bucket>%s</Bucket><Key>%s</Key><UploadId>up-%s</UploadId></InitiateMultipartUploadResult>`, bucket, key, key)

	case r.Method == http.MethodPost && q.Get("uploadId") != "":
		var body completeBody
		raw, _ := io.ReadAll(r.Body)
		if err := xml.Unmarshal(raw, &body); err != nil {
			writeError(w, http.StatusBadRequest, "MalformedXML")
			return
		}
		parts := f.parts[q.Get("uploadId")]
		var order []int
		var assembled []byte
		for _, p := range body.Parts {
			order = append(order, p.PartNumber)
			assembled = append(assembled, parts[p.PartNumber]...)
		}
		f.committed = append(f.committed, order)
		f.objects[path] = assembled
		delete(f.parts, q.Get("uploadId"))
		fmt.Fprintf(w, `<CompleteMultipartUploadResult><Bucket>%s</Bucket><Key>%s</Key><ETag>"multi-%d"</ETag></CompleteMultipartUploadResult>`, bucket, key, len(order))

	case r.Method == http.MethodPut && q.Get("uploadId") != "":
		n, _ := strconv.Atoi(q.Get("partNumber"))
		data, _ := io.ReadAll(r.Body)
		f.parts[q.Get("uploadId")][n] = data
		w.Header().Set("ETag", fmt.Sprintf(`"part-%d"`, n))
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodPut && r.Header.Get("X-Amz-Copy-Source") != "":
		src := strings.TrimPrefix(r.Header.Get("X-Amz-Copy-Source"), "/")
		data, ok := f.objects[src]
		if !ok {
			writeError(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		f.objects[path] = append([]byte(nil), data...)
		fmt.Fprint(w, `<CopyObjectResult><ETag>"copied"</ETag></CopyObjectResult>`)

	case r.Method == http.MethodPut && key != "":
		data, _ := io.ReadAll(r.Body)
		f.objects[path] = data
		w.Header().Set("ETag", `"put-etag"`)
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodDelete && q.Get("uploadId") != "":
		delete(f.parts, q.Get("uploadId"))
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodDelete:
		delete(f.objects, path)
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusNotImplemented, "NotImplemented")
	}
}

func (f *fakeS3) list(w http.ResponseWriter, bucket, prefix, delimiter string) {
	var keys []string
	for p := range f.objects {
		b, k, _ := strings.Cut(p, "/")
		if b == bucket && strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
	fmt.Fprintf(&sb, "<Name>%s</Name><Prefix>%s</Prefix><IsTruncated>false</IsTruncated>", bucket, prefix)
	seen := map[string]bool{}
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		if delimiter != "" {
			if i := strings.Index(rest, delimiter); i >= 0 {
				cp := prefix + rest[:i+1]
				if !seen[cp] {
					seen[cp] = true
					fmt.Fprintf(&sb, "<CommonPrefixes><Prefix>%s</Prefix></CommonPrefixes>", cp)
				}
				continue
			}
		}
		fmt.Fprintf(&sb, `<Contents><Key>%s</Key><LastModified>2024-01-02T03:04:05.000Z</LastModified><ETag>"e"</ETag><Size>%d</Size><StorageClass>STANDARD</StorageClass></Contents>`,
			k, len(f.objects[bucket+"/"+k]))
	}
	sb.WriteString("</ListBucketResult>")
	w.Header().Set("Content-Type", "application/xml")
	io.WriteString(w, sb.String())
}

func newTestClient(t *testing.T) (*Client, *fakeS3) {
	t.Helper()
	fake := newFakeS3()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := NewClient(context.Background(), Config{
		Region:        "us-ashburn-1",
		Namespace:     "ns",
		CompartmentID: "ocid1.compartment.oc1..c",
		Endpoint:      srv.URL,
		Credentials:   credentials.Static("AK", "SK", ""),
		MaxAttempts:   1,
	})
	require.NoError(t, err)
	return client, fake
}

func TestNewClientRequiresRegion(t *testing.T) {
	_, err := NewClient(context.Background(), Config{})
	assert.Error(t, err)
}

func TestEndpointFor(t *testing.T) {
	client, err := NewClient(context.Background(), Config{Region: "us-phoenix-1"})
	require.NoError(t, err)
	assert.Equal(t, "https://mytenancy.compat.objectstorage.us-phoenix-1.oraclecloud.com", client.EndpointFor("mytenancy"))
}

func TestPutGetHead(t *testing.T) {
	ctx := context.Background()
	client, fake := newTestClient(t)

	res, err := client.PutObject(ctx, &objectstore.PutObjectRequest{Namespace: "ns", Bucket: "b", Key: "dir/f", Body: []byte("hello world")})
	require.NoError(t, err)
	assert.Equal(t, "put-etag", res.ETag)
	assert.NotEmpty(t, res.MD5)

	info, err := client.HeadObject(ctx, &objectstore.HeadObjectRequest{Namespace: "ns", Bucket: "b", Key: "dir/f"})
	require.NoError(t, err)
	assert.EqualValues(t, 11, info.Size)
	assert.Equal(t, "etag-dir/f", info.ETag)

	data, err := client.GetObjectRange(ctx, &objectstore.GetObjectRequest{
		Namespace: "ns", Bucket: "b", Key: "dir/f",
		Range: &objectstore.ByteRange{Start: 6, End: 11},
	})
	require.NoError(t, err)
	assert.Equal(t, "world", string(data))
	assert.Equal(t, []string{"bytes=6-10"}, fake.ranges)
}

func TestMissingObjectTranslatesToNotFound(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	_, err := client.HeadObject(ctx, &objectstore.HeadObjectRequest{Namespace: "ns", Bucket: "b", Key: "nope"})
	require.Error(t, err)
	assert.True(t, fserrors.Is(fserrors.Translate(err), fserrors.NotFound))

	_, err = client.GetObjectRange(ctx, &objectstore.GetObjectRequest{Namespace: "ns", Bucket: "b", Key: "nope"})
	require.Error(t, err)
	terr := fserrors.Translate(err)
	assert.True(t, fserrors.Is(terr, fserrors.NotFound))
	assert.Equal(t, "NoSuchKey", terr.(*fserrors.Error).Code)
}

func TestListObjects(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	for _, k := range []string{"dir/a", "dir/b", "dir/sub/c", "top"} {
		_, err := client.PutObject(ctx, &objectstore.PutObjectRequest{Namespace: "ns", Bucket: "b", Key: k, Body: []byte(k)})
		require.NoError(t, err)
	}

	res, err := client.ListObjects(ctx, &objectstore.ListObjectsRequest{Namespace: "ns", Bucket: "b", Prefix: "dir/", Delimiter: "/"})
	require.NoError(t, err)
	require.Len(t, res.Objects, 2)
	assert.Equal(t, "dir/a", res.Objects[0].Name)
	assert.EqualValues(t, 5, res.Objects[0].Size)
	assert.Equal(t, "e", res.Objects[0].ETag)
	assert.Equal(t, []string{"dir/sub/"}, res.Prefixes)
	assert.Empty(t, res.NextStart)
}

func TestMultipartRoundTrip(t *testing.T) {
	ctx := context.Background()
	client, fake := newTestClient(t)

	up, err := client.CreateMultipartUpload(ctx, &objectstore.CreateMultipartUploadRequest{Namespace: "ns", Bucket: "b", Key: "big"})
	require.NoError(t, err)
	assert.Equal(t, "up-big", up.UploadID)

	var parts []objectstore.CommittedPart
	for i, chunk := range []string{"first-", "second-", "third"} {
		res, err := client.UploadPart(ctx, &objectstore.UploadPartRequest{
			Namespace: "ns", Bucket: "b", Key: "big", UploadID: up.UploadID,
			PartNumber: i + 1, Body: []byte(chunk),
		})
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("part-%d", i+1), res.ETag)
		parts = append(parts, objectstore.CommittedPart{PartNumber: i + 1, ETag: res.ETag})
	}

	// Parts are sent in ascending order regardless of how they are listed.
	shuffled := []objectstore.CommittedPart{parts[2], parts[0], parts[1]}
	res, err := client.CommitMultipartUpload(ctx, &objectstore.CommitMultipartUploadRequest{
		Namespace: "ns", Bucket: "b", Key: "big", UploadID: up.UploadID, Parts: shuffled,
	})
	require.NoError(t, err)
	assert.Equal(t, "multi-3", res.ETag)
	assert.Equal(t, [][]int{{1, 2, 3}}, fake.committed)
	assert.Equal(t, "first-second-third", string(fake.objects["b/big"]))
}

func TestAbortMultipart(t *testing.T) {
	ctx := context.Background()
	client, fake := newTestClient(t)

	up, err := client.CreateMultipartUpload(ctx, &objectstore.CreateMultipartUploadRequest{Namespace: "ns", Bucket: "b", Key: "k"})
	require.NoError(t, err)
	require.NoError(t, client.AbortMultipartUpload(ctx, &objectstore.AbortMultipartUploadRequest{
		Namespace: "ns", Bucket: "b", Key: "k", UploadID: up.UploadID,
	}))
	assert.Empty(t, fake.parts)
}

func TestRenameIsCopyThenDelete(t *testing.T) {
	ctx := context.Background()
	client, fake := newTestClient(t)

	_, err := client.PutObject(ctx, &objectstore.PutObjectRequest{Namespace: "ns", Bucket: "b", Key: "old", Body: []byte("data")})
	require.NoError(t, err)
	require.NoError(t, client.RenameObject(ctx, &objectstore.RenameObjectRequest{Namespace: "ns", Bucket: "b", SourceKey: "old", NewKey: "new"}))

	assert.Equal(t, "data", string(fake.objects["b/new"]))
	_, ok := fake.objects["b/old"]
	assert.False(t, ok)
}

func TestCopyRejectsCrossRegion(t *testing.T) {
	client, _ := newTestClient(t)
	err := client.CopyObject(context.Background(), &objectstore.CopyObjectRequest{
		SourceNamespace: "ns", SourceBucket: "b", SourceKey: "k",
		DestinationRegion: "eu-frankfurt-1", DestinationBucket: "b", DestinationKey: "k2",
	})
	require.Error(t, err)
	assert.True(t, fserrors.Is(fserrors.Translate(err), fserrors.NotImplemented))
}

func TestNamespace(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	ns, err := client.GetNamespace(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ns", ns)

	meta, err := client.GetNamespaceMetadata(ctx, "ns")
	require.NoError(t, err)
	assert.Equal(t, "ocid1.compartment.oc1..c", meta.DefaultSwiftCompartmentID)

	unconfigured, err := NewClient(ctx, Config{Region: "us-ashburn-1"})
	require.NoError(t, err)
	_, err = unconfigured.GetNamespace(ctx)
	require.Error(t, err)
	assert.True(t, fserrors.Is(fserrors.Translate(err), fserrors.NotImplemented))
}

func TestRefreshRotatesSigningKey(t *testing.T) {
	ctx := context.Background()
	passwd := filepath.Join(t.TempDir(), "passwd")
	require.NoError(t, os.WriteFile(passwd, []byte("OLDKEY:oldsecret"), 0o600))
	creds := credentials.NewCredentials()
	require.NoError(t, creds.LoadFromPasswdFile(passwd))

	fake := newFakeS3()
	var mu sync.Mutex
	var auth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth = append(auth, r.Header.Get("Authorization"))
		mu.Unlock()
		fake.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(ctx, Config{
		Region:      "us-ashburn-1",
		Namespace:   "ns",
		Endpoint:    srv.URL,
		Credentials: creds,
		MaxAttempts: 1,
	})
	require.NoError(t, err)

	put := &objectstore.PutObjectRequest{Namespace: "ns", Bucket: "b", Key: "k", Body: []byte("x")}
	_, err = client.PutObject(ctx, put)
	require.NoError(t, err)
	signer, err := client.awsCfg.Credentials.Retrieve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "OLDKEY", signer.AccessKeyID)

	require.NoError(t, os.WriteFile(passwd, []byte("NEWKEY:newsecret"), 0o600))
	require.NoError(t, client.Refresh(ctx))

	signer, err = client.awsCfg.Credentials.Retrieve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "NEWKEY", signer.AccessKeyID)

	_, err = client.PutObject(ctx, put)
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, auth, 2)
	assert.Contains(t, auth[0], "Credential=OLDKEY/")
	assert.Contains(t, auth[1], "Credential=NEWKEY/")
}

func TestRefreshWithoutCredentials(t *testing.T) {
	client, err := NewClient(context.Background(), Config{Region: "us-ashburn-1"})
	require.NoError(t, err)
	assert.NoError(t, client.Refresh(context.Background()))
}
