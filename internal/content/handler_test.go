// handler_test.go

// unit tests for the content handlers over the shared in-memory mocks.

package content

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/egiraffe/egiraffe/internal/auth"
	"github.com/egiraffe/egiraffe/internal/blob"
	"github.com/egiraffe/egiraffe/internal/entitlement"
	"github.com/egiraffe/egiraffe/internal/store"
	"github.com/egiraffe/egiraffe/internal/testutil"
	"github.com/go-chi/chi/v5"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/gofrs/uuid/v5"
	"golang.org/x/crypto/sha3"
)

// --- Helper Functions ---

type fixture struct {
	h     *Handler
	ms    *testutil.MockStore
	mc    *testutil.MockCache
	blobs *blob.LocalStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ms := testutil.NewMockStore()
	mc := testutil.NewMockCache()
	blobs, err := blob.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { blobs.Close() })

	return &fixture{
		h: &Handler{
			PS:             ms,
			Entitlement:    &entitlement.Evaluator{Store: ms},
			Blobs:          blobs,
			Sessions:       &auth.SessionManager{PS: ms, RS: mc, CacheTTL: time.Hour},
			MaxUploadBytes: 1 << 20,
		},
		ms:    ms,
		mc:    mc,
		blobs: blobs,
	}
}

func (f *fixture) addUser(role int16) uuid.UUID {
	u := &store.User{ID: uuid.Must(uuid.NewV7()), Email: uuid.Must(uuid.NewV4()).String() + "@ethz.ch", Role: role}
	f.ms.Users[u.ID] = u
	return u.ID
}

func (f *fixture) addUpload(uploader uuid.UUID, price int16) uuid.UUID {
	id := uuid.Must(uuid.NewV7())
	f.ms.Uploads[id] = &store.Upload{ID: id, Name: "Analysis notes", Uploader: uploader, Price: price, BelongsTo: uuid.Must(uuid.NewV7())}
	return id
}

// addFile stores content in the blob store and registers the row.
func (f *fixture) addFile(t *testing.T, uploadID uuid.UUID, content string, approvalUploader, approvalMod bool) uuid.UUID {
	t.Helper()
	id := uuid.Must(uuid.NewV7())
	key := "files/" + id.String()
	if err := f.blobs.Put(context.Background(), key, strings.NewReader(content), int64(len(content)), "application/pdf"); err != nil {
		t.Fatal(err)
	}
	f.ms.Files[id] = &store.File{
		ID: id, Name: "notes.pdf", MimeType: "application/pdf", Size: int64(len(content)),
		StorageKey: key, UploadID: uploadID, ApprovalUploader: approvalUploader, ApprovalMod: approvalMod,
	}
	return id
}

func (f *fixture) fund(user uuid.UUID, amount int64) {
	f.ms.Transactions = append(f.ms.Transactions, store.SystemTransaction{AffectedUser: user, DeltaEC: amount})
}

// request builds a request carrying the identity and chi URL params.
func request(method, path, body string, user uuid.UUID, level auth.Level, params ...string) *http.Request {
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(params); i += 2 {
		rctx.URLParams.Add(params[i], params[i+1])
	}
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	ctx = auth.WithIdentity(ctx, auth.Identity{UserID: user, Level: level})
	return r.WithContext(ctx)
}

func serve(h http.HandlerFunc, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decoding body %q: %v", w.Body.String(), err)
	}
	return out
}

func assertStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func assertUnauthorized(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	assertStatus(t, w, http.StatusUnauthorized)
	body := decodeBody(t, w)
	if body["success"] != false || body["message"] != "Unauthorized" {
		t.Errorf("unexpected 401 body: %v", body)
	}
}

// seekRecorder notes whether Put was handed a body it can rewind.
type seekRecorder struct {
	blob.Store
	seekable bool
}

func (s *seekRecorder) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, s.seekable = r.(io.Seeker)
	return s.Store.Put(ctx, key, r, size, contentType)
}

// --- Download ---

func TestDownload(t *testing.T) {
	f := newFixture(t)
	owner := f.addUser(1)
	buyer := f.addUser(1)
	stranger := f.addUser(1)
	upload := f.addUpload(owner, 5)
	private := f.addFile(t, upload, "%PDF-private", true, false)
	public := f.addFile(t, upload, "%PDF-public", true, true)
	f.ms.Purchases[[2]uuid.UUID{buyer, upload}] = &store.Purchase{UserID: buyer, UploadID: upload}

	download := func(user, file uuid.UUID) *httptest.ResponseRecorder {
		return serve(f.h.Download, request(http.MethodGet, "/", "", user, auth.LevelRegularUser, "fileID", file.String()))
	}

	t.Run("owner reads unapproved file", func(t *testing.T) {
		w := download(owner, private)
		assertStatus(t, w, http.StatusOK)
		if w.Body.String() != "%PDF-private" {
			t.Errorf("unexpected body %q", w.Body.String())
		}
		if got := w.Header().Get("Content-Disposition"); got != `attachment; filename="notes.pdf"` {
			t.Errorf("unexpected Content-Disposition %q", got)
		}
		if got := w.Header().Get("Content-Type"); got != "application/pdf" {
			t.Errorf("unexpected Content-Type %q", got)
		}
	})

	t.Run("purchaser reads unapproved file", func(t *testing.T) {
		assertStatus(t, download(buyer, private), http.StatusOK)
	})

	t.Run("stranger is denied unapproved file", func(t *testing.T) {
		assertUnauthorized(t, download(stranger, private))
	})

	t.Run("stranger reads approved file", func(t *testing.T) {
		w := download(stranger, public)
		assertStatus(t, w, http.StatusOK)
		if w.Body.String() != "%PDF-public" {
			t.Errorf("unexpected body %q", w.Body.String())
		}
	})

	t.Run("unknown file looks like a denial", func(t *testing.T) {
		assertUnauthorized(t, download(stranger, uuid.Must(uuid.NewV7())))
	})

	t.Run("malformed id looks like a denial", func(t *testing.T) {
		r := request(http.MethodGet, "/", "", stranger, auth.LevelRegularUser, "fileID", "nope")
		assertUnauthorized(t, serve(f.h.Download, r))
	})

	t.Run("anonymous identity is rejected", func(t *testing.T) {
		r := request(http.MethodGet, "/", "", uuid.Nil, auth.LevelAnonymous, "fileID", public.String())
		assertUnauthorized(t, serve(f.h.Download, r))
	})

	t.Run("strict mode hides purchased unapproved file", func(t *testing.T) {
		f.h.Entitlement.PurchaseRequiresApproval = true
		defer func() { f.h.Entitlement.PurchaseRequiresApproval = false }()
		assertUnauthorized(t, download(buyer, private))
		assertStatus(t, download(owner, private), http.StatusOK)
	})

	t.Run("row without content is 500 and counted as missing", func(t *testing.T) {
		orphan := uuid.Must(uuid.NewV7())
		f.ms.Files[orphan] = &store.File{ID: orphan, Name: "lost.pdf", StorageKey: "files/" + orphan.String(), UploadID: upload}
		before := promtestutil.ToFloat64(downloads.WithLabelValues("missing"))

		assertStatus(t, download(owner, orphan), http.StatusInternalServerError)
		if got := promtestutil.ToFloat64(downloads.WithLabelValues("missing")); got != before+1 {
			t.Errorf("missing downloads: expected %v, got %v", before+1, got)
		}
	})

	t.Run("storage error is 500", func(t *testing.T) {
		f.ms.GetFileAccessErr = errors.New("db down")
		defer func() { f.ms.GetFileAccessErr = nil }()
		assertStatus(t, download(owner, private), http.StatusInternalServerError)
	})
}

func TestContentDisposition(t *testing.T) {
	tests := []struct {
		name, want string
	}{
		{"notes.pdf", `attachment; filename="notes.pdf"`},
		{`a"b\c.txt`, `attachment; filename="a_b_c.txt"`},
		{"", `attachment; filename="download"`},
		{"Übung.pdf", `attachment; filename="_bung.pdf"; filename*=UTF-8''%C3%9Cbung.pdf`},
	}
	for _, tt := range tests {
		if got := contentDisposition(tt.name); got != tt.want {
			t.Errorf("contentDisposition(%q): expected %q, got %q", tt.name, tt.want, got)
		}
	}
}

// --- Purchase ---

func TestPurchase(t *testing.T) {
	f := newFixture(t)
	owner := f.addUser(1)
	buyer := f.addUser(1)
	upload := f.addUpload(owner, 5)
	f.fund(buyer, 7)

	buy := func(user uuid.UUID, body string) *httptest.ResponseRecorder {
		return serve(f.h.Purchase, request(http.MethodPut, "/", body, user, auth.LevelRegularUser))
	}
	body := `{"upload_id":"` + upload.String() + `"}`

	t.Run("success", func(t *testing.T) {
		w := buy(buyer, body)
		assertStatus(t, w, http.StatusOK)
		if decodeBody(t, w)["success"] != true {
			t.Error("expected success")
		}
		if funds, _ := f.ms.AvailableFunds(context.Background(), buyer); funds != 2 {
			t.Errorf("expected 2 ECS left, got %d", funds)
		}
		if funds, _ := f.ms.AvailableFunds(context.Background(), owner); funds != 5 {
			t.Errorf("uploader should earn 5, got %d", funds)
		}
	})

	t.Run("second purchase conflicts", func(t *testing.T) {
		assertStatus(t, buy(buyer, body), http.StatusConflict)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		pricey := f.addUpload(owner, 50)
		assertStatus(t, buy(buyer, `{"upload_id":"`+pricey.String()+`"}`), http.StatusPaymentRequired)
	})

	t.Run("own upload", func(t *testing.T) {
		assertStatus(t, buy(owner, body), http.StatusBadRequest)
	})

	t.Run("unknown upload", func(t *testing.T) {
		assertStatus(t, buy(buyer, `{"upload_id":"`+uuid.Must(uuid.NewV7()).String()+`"}`), http.StatusNotFound)
	})

	t.Run("missing or malformed id", func(t *testing.T) {
		assertStatus(t, buy(buyer, `{}`), http.StatusBadRequest)
		assertStatus(t, buy(buyer, `{"upload_id":"x"}`), http.StatusBadRequest)
	})

	t.Run("store failure", func(t *testing.T) {
		f.ms.PurchaseErr = errors.New("db down")
		defer func() { f.ms.PurchaseErr = nil }()
		assertStatus(t, buy(buyer, body), http.StatusInternalServerError)
	})
}

func TestBalance(t *testing.T) {
	f := newFixture(t)
	user := f.addUser(1)
	f.fund(user, 12)
	f.fund(user, -2)

	w := serve(f.h.Balance, request(http.MethodGet, "/", "", user, auth.LevelRegularUser))
	assertStatus(t, w, http.StatusOK)
	if got := decodeBody(t, w)["balance"]; got != float64(10) {
		t.Errorf("expected balance 10, got %v", got)
	}
}

// --- Uploads ---

func TestSaveUpload(t *testing.T) {
	f := newFixture(t)
	owner := f.addUser(1)
	stranger := f.addUser(1)
	course := uuid.Must(uuid.NewV7())

	save := func(user uuid.UUID, body string) *httptest.ResponseRecorder {
		return serve(f.h.SaveUpload, request(http.MethodPut, "/", body, user, auth.LevelRegularUser))
	}

	var created uuid.UUID
	t.Run("create makes caller the uploader", func(t *testing.T) {
		w := save(owner, `{"name":"Exam 2023","price":3,"belongs_to":"`+course.String()+`"}`)
		assertStatus(t, w, http.StatusOK)
		up := decodeBody(t, w)["upload"].(map[string]any)
		created = uuid.FromStringOrNil(up["id"].(string))
		stored, ok := f.ms.Uploads[created]
		if !ok {
			t.Fatal("upload not stored")
		}
		if stored.Uploader != owner || stored.UploadType != "unknown" || stored.Price != 3 {
			t.Errorf("unexpected stored upload %+v", stored)
		}
	})

	t.Run("create needs a course and a name", func(t *testing.T) {
		assertStatus(t, save(owner, `{"name":"x"}`), http.StatusBadRequest)
		assertStatus(t, save(owner, `{"belongs_to":"`+course.String()+`"}`), http.StatusBadRequest)
		assertStatus(t, save(owner, `{"name":"x","price":-1,"belongs_to":"`+course.String()+`"}`), http.StatusBadRequest)
	})

	t.Run("owner modifies", func(t *testing.T) {
		w := save(owner, `{"id":"`+created.String()+`","name":"Exam 2023 (solutions)","price":4}`)
		assertStatus(t, w, http.StatusOK)
		stored := f.ms.Uploads[created]
		if stored.Name != "Exam 2023 (solutions)" || stored.Price != 4 || stored.BelongsTo != course {
			t.Errorf("unexpected stored upload %+v", stored)
		}
	})

	t.Run("stranger is forbidden", func(t *testing.T) {
		w := save(stranger, `{"id":"`+created.String()+`","name":"mine now"}`)
		assertStatus(t, w, http.StatusForbidden)
		if f.ms.Uploads[created].Name == "mine now" {
			t.Error("upload must not change")
		}
	})

	t.Run("unknown upload", func(t *testing.T) {
		assertStatus(t, save(owner, `{"id":"`+uuid.Must(uuid.NewV7()).String()+`","name":"x"}`), http.StatusNotFound)
	})

	t.Run("moderator edits any upload", func(t *testing.T) {
		mod := f.addUser(2)
		r := request(http.MethodPut, "/", `{"id":"`+created.String()+`","name":"renamed by mod"}`, mod, auth.LevelModerator)
		assertStatus(t, serve(f.h.ModSaveUpload, r), http.StatusOK)
		if got := f.ms.Uploads[created]; got.Name != "renamed by mod" || got.Uploader != owner {
			t.Errorf("unexpected stored upload %+v", got)
		}
		r = request(http.MethodPut, "/", `{"name":"no id"}`, mod, auth.LevelModerator)
		assertStatus(t, serve(f.h.ModSaveUpload, r), http.StatusBadRequest)
	})
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(part, content)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestUploadFile(t *testing.T) {
	f := newFixture(t)
	owner := f.addUser(1)
	stranger := f.addUser(1)
	upload := f.addUpload(owner, 0)

	send := func(user uuid.UUID, field, content string) *httptest.ResponseRecorder {
		body, ct := multipartBody(t, field, "summary.txt", content)
		r := request(http.MethodPost, "/", "", user, auth.LevelRegularUser, "uploadID", upload.String())
		r.Body = io.NopCloser(body)
		r.Header.Set("Content-Type", ct)
		return serve(f.h.UploadFile, r)
	}

	t.Run("owner uploads", func(t *testing.T) {
		content := "eigenvalues everywhere"
		w := send(owner, "file", content)
		assertStatus(t, w, http.StatusOK)

		file := decodeBody(t, w)["file"].(map[string]any)
		stored := f.ms.Files[uuid.FromStringOrNil(file["id"].(string))]
		if stored == nil {
			t.Fatal("file row not stored")
		}
		sum := sha3.Sum256([]byte(content))
		if stored.SHA3_256 != hex.EncodeToString(sum[:]) {
			t.Errorf("digest mismatch: %s", stored.SHA3_256)
		}
		if !stored.ApprovalUploader || stored.ApprovalMod {
			t.Errorf("expected uploader approval only, got %+v", stored)
		}
		if stored.Size != int64(len(content)) || stored.Name != "summary.txt" {
			t.Errorf("unexpected metadata %+v", stored)
		}

		rc, err := f.blobs.Open(context.Background(), stored.StorageKey)
		if err != nil {
			t.Fatalf("blob missing: %v", err)
		}
		defer rc.Close()
		if b, _ := io.ReadAll(rc); string(b) != content {
			t.Errorf("blob content mismatch: %q", b)
		}
	})

	t.Run("blob store receives a seekable body", func(t *testing.T) {
		rec := &seekRecorder{Store: f.blobs}
		f.h.Blobs = rec
		defer func() { f.h.Blobs = f.blobs }()

		assertStatus(t, send(owner, "file", "rewindable"), http.StatusOK)
		if !rec.seekable {
			t.Error("Put got a body without io.Seeker")
		}
	})

	t.Run("stranger is forbidden", func(t *testing.T) {
		before := len(f.ms.Files)
		assertStatus(t, send(stranger, "file", "spam"), http.StatusForbidden)
		if len(f.ms.Files) != before {
			t.Error("no file row may be created")
		}
	})

	t.Run("missing file part", func(t *testing.T) {
		assertStatus(t, send(owner, "attachment", "x"), http.StatusBadRequest)
	})

	t.Run("too large", func(t *testing.T) {
		f.h.MaxUploadBytes = 256
		defer func() { f.h.MaxUploadBytes = 1 << 20 }()
		assertStatus(t, send(owner, "file", strings.Repeat("x", 512)), http.StatusRequestEntityTooLarge)
	})
}

// --- Approvals ---

func TestApprovals(t *testing.T) {
	f := newFixture(t)
	owner := f.addUser(1)
	stranger := f.addUser(1)
	mod := f.addUser(2)
	upload := f.addUpload(owner, 5)
	file := f.addFile(t, upload, "content", false, false)

	approve := func(user uuid.UUID, body string) *httptest.ResponseRecorder {
		return serve(f.h.ApproveFile, request(http.MethodPut, "/", body, user, auth.LevelRegularUser, "fileID", file.String()))
	}
	modApprove := func(body string) *httptest.ResponseRecorder {
		return serve(f.h.ModApproveFile, request(http.MethodPut, "/", body, mod, auth.LevelModerator, "fileID", file.String()))
	}
	download := func() *httptest.ResponseRecorder {
		return serve(f.h.Download, request(http.MethodGet, "/", "", stranger, auth.LevelRegularUser, "fileID", file.String()))
	}

	assertStatus(t, approve(stranger, `{"approved":true}`), http.StatusForbidden)
	assertStatus(t, approve(owner, `{}`), http.StatusBadRequest)
	assertStatus(t, approve(owner, `{"approved":true}`), http.StatusOK)
	assertUnauthorized(t, download())

	assertStatus(t, modApprove(`{"approval_mod":true}`), http.StatusOK)
	assertStatus(t, download(), http.StatusOK)

	// Withdrawing consent hides the file again.
	assertStatus(t, approve(owner, `{"approved":false}`), http.StatusOK)
	assertUnauthorized(t, download())

	t.Run("unknown file", func(t *testing.T) {
		r := request(http.MethodPut, "/", `{"approval_mod":true}`, mod, auth.LevelModerator, "fileID", uuid.Must(uuid.NewV7()).String())
		assertStatus(t, serve(f.h.ModApproveFile, r), http.StatusNotFound)
	})
}

// --- Admin ---

func TestSetRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	admin := f.addUser(3)
	user := f.addUser(1)

	// A cached session for the user that still carries the old level.
	f.mc.SetSession(ctx, "cached-token", store.CachedSession{UserID: user, Role: 1}, time.Hour)

	setRole := func(target, body string) *httptest.ResponseRecorder {
		return serve(f.h.SetRole, request(http.MethodPut, "/", body, admin, auth.LevelAdmin, "userID", target))
	}

	assertStatus(t, setRole(user.String(), `{"role":2}`), http.StatusOK)
	if f.ms.Users[user].Role != 2 {
		t.Errorf("expected role 2, got %d", f.ms.Users[user].Role)
	}
	if _, err := f.mc.GetSession(ctx, "cached-token"); !errors.Is(err, store.ErrCacheMiss) {
		t.Errorf("cached session should be dropped, got %v", err)
	}

	assertStatus(t, setRole(user.String(), `{"role":4}`), http.StatusBadRequest)
	assertStatus(t, setRole(user.String(), `{"role":0}`), http.StatusBadRequest)
	assertStatus(t, setRole(uuid.Must(uuid.NewV7()).String(), `{"role":2}`), http.StatusNotFound)
	assertStatus(t, setRole("nope", `{"role":2}`), http.StatusBadRequest)

	t.Run("cache failure is reported", func(t *testing.T) {
		f.mc.DeleteAllSessionsErr = errors.New("redis down")
		defer func() { f.mc.DeleteAllSessionsErr = nil }()
		assertStatus(t, setRole(user.String(), `{"role":1}`), http.StatusInternalServerError)
	})
}

func TestSystemTransaction(t *testing.T) {
	f := newFixture(t)
	admin := f.addUser(3)
	user := f.addUser(1)

	send := func(body string) *httptest.ResponseRecorder {
		return serve(f.h.SystemTransaction, request(http.MethodPut, "/", body, admin, auth.LevelAdmin))
	}

	assertStatus(t, send(`{"user_id":"`+user.String()+`","delta_ec":25,"reason":"welcome bonus"}`), http.StatusOK)
	if funds, _ := f.ms.AvailableFunds(context.Background(), user); funds != 25 {
		t.Errorf("expected 25, got %d", funds)
	}
	assertStatus(t, send(`{"user_id":"`+user.String()+`","delta_ec":0}`), http.StatusBadRequest)
	assertStatus(t, send(`{"delta_ec":5}`), http.StatusBadRequest)
}
