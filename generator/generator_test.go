// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

package generator_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"mineskin.org/mineskin/accountpool"
	"mineskin.org/mineskin/accounts"
	"mineskin.org/mineskin/dedup"
	"mineskin.org/mineskin/generator"
	"mineskin.org/mineskin/mineskindb/mineskindbtest"
	"mineskin.org/mineskin/mojang"
	"mineskin.org/mineskin/optimus"
	"mineskin.org/mineskin/secrets"
	"mineskin.org/mineskin/skinimage"
	"mineskin.org/mineskin/skins"
	"mineskin.org/mineskin/tempfiles"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

var hashRx = regexp.MustCompile(`^[0-9a-f]{64}$`)

func skinPNG(t *testing.T, seed uint8) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x*3) + seed, G: uint8(y * 3), B: uint8((x + y) * 2), A: 255,
			})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// skinChange is one recorded call against the skin endpoint.
type skinChange struct {
	Variant       string
	URL           string
	FileBytes     int
	XForwardedFor string
	RemoteAddr    string
}

// fakeMojang emulates the upstream endpoints the pipeline touches.
type fakeMojang struct {
	mu sync.Mutex

	baseURL        string
	texture        []byte
	model          string
	authFail       bool
	skinChangeFail bool
	changes        []skinChange
}

func (f *fakeMojang) changeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.changes)
}

func (f *fakeMojang) lastChange() skinChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changes[len(f.changes)-1]
}

func (f *fakeMojang) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case r.URL.Path == "/validate":
			if f.authFail {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		case r.URL.Path == "/refresh" || r.URL.Path == "/authenticate":
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"ForbiddenOperationException"}`))

		case r.URL.Path == "/minecraft/profile/skins":
			if f.skinChangeFail {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"upstream exploded"}`))
				return
			}
			change := skinChange{
				XForwardedFor: r.Header.Get("X-Forwarded-For"),
				RemoteAddr:    r.Header.Get("REMOTE_ADDR"),
			}
			if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
				require.NoError(t, r.ParseMultipartForm(1<<20))
				change.Variant = r.FormValue("variant")
				file, _, err := r.FormFile("file")
				require.NoError(t, err)
				data, err := io.ReadAll(file)
				require.NoError(t, err)
				change.FileBytes = len(data)
			} else {
				var req struct{ Variant, URL string }
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				change.Variant = req.Variant
				change.URL = req.URL
			}
			f.changes = append(f.changes, change)

		case strings.HasPrefix(r.URL.Path, "/session/minecraft/profile/"):
			id := strings.TrimPrefix(r.URL.Path, "/session/minecraft/profile/")
			skin := map[string]interface{}{"url": f.baseURL + "/texture/current"}
			if f.model != "" {
				skin["metadata"] = map[string]string{"model": f.model}
			}
			payload, err := json.Marshal(map[string]interface{}{
				"textures": map[string]interface{}{"SKIN": skin},
			})
			require.NoError(t, err)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"id":   id,
				"name": "Target",
				"properties": []map[string]string{{
					"name":      "textures",
					"value":     base64.StdEncoding.EncodeToString(payload),
					"signature": "upstream-signature",
				}},
			})

		case r.URL.Path == "/texture/current":
			_, _ = w.Write(f.texture)

		case r.URL.Path == "/skin.png":
			_, _ = w.Write(f.texture)

		case r.URL.Path == "/redirect":
			http.Redirect(w, r, "/skin.png", http.StatusFound)

		case r.URL.Path == "/huge":
			// sniffs as a png, but far past the size bound
			_, _ = w.Write(f.texture)
			_, _ = w.Write(make([]byte, 30000))

		case r.URL.Path == "/opaque":
			w.Header()["Content-Type"] = nil
			_, _ = w.Write(f.texture)

		case r.URL.Path == "/notes.txt":
			_, _ = w.Write([]byte(strings.Repeat("definitely not an image ", 20)))

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

type env struct {
	db       *mineskindbtest.DB
	upstream *fakeMojang
	service  *generator.Service
}

func newEnv(ctx *testcontext.Context, t *testing.T, db *mineskindbtest.DB) *env {
	log := zaptest.NewLogger(t)

	upstream := &fakeMojang{texture: skinPNG(t, 0)}
	server := httptest.NewServer(upstream.handler(t))
	t.Cleanup(server.Close)
	upstream.baseURL = server.URL

	codec, err := secrets.NewCodec(testKeyHex)
	require.NoError(t, err)

	client := mojang.NewClient(log, mojang.Config{
		AuthBaseURL:    server.URL,
		APIBaseURL:     server.URL,
		SessionBaseURL: server.URL,
		AccountBaseURL: server.URL,
		RequestTimeout: 10 * time.Second,
	})
	auth := mojang.NewAuthenticator(log, client, codec, db.Accounts())
	pool := accountpool.NewPool(log, db.Accounts(), accountpool.Config{
		Server:          "test-node",
		ErrorThreshold:  10,
		MinAccountDelay: time.Second,
	})
	detector := dedup.NewDetector(log, db.Skins())

	temp, err := tempfiles.NewManager(t.TempDir())
	require.NoError(t, err)

	obf, err := optimus.NewObfuscator(optimus.Config{
		Prime: 1580030173, Inverse: 59260789, Random: 1163945558,
	})
	require.NoError(t, err)
	alloc := optimus.NewAllocator(obf, db.Skins())

	service := generator.NewService(log, db.Skins(), detector, pool, auth, client, temp, alloc,
		"test-node", generator.Config{AllowedHosts: []string{"127.0.0.1"}})

	return &env{db: db, upstream: upstream, service: service}
}

func (e *env) addAccount(id int64) {
	now := time.Now().Unix()
	e.db.AddAccount(accounts.Account{
		ID:           id,
		Username:     "steve@example.com",
		UUID:         "c5b9d74a2b184e6a9c2e7f3a1d7b9c01",
		RequestIP:    "198.51.100.42",
		ClientToken:  "client-token",
		AccessToken:  "session-token",
		Enabled:      true,
		TimeAddedSec: now - 3600,
		LastUsedSec:  now - 3600,
	})
}

func publicOpts() generator.Options {
	return generator.Options{
		Name:       "Test Skin",
		Variant:    skins.VariantUnknown,
		Visibility: skins.VisibilityPublic,
	}
}

func requestInfo() generator.RequestInfo {
	return generator.RequestInfo{IP: "203.0.113.7", UserAgent: "test-agent", Via: "api"}
}

func TestFromURL(t *testing.T) {
	mineskindbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mineskindbtest.DB) {
		env := newEnv(ctx, t, db)
		env.addAccount(1)

		rawURL := env.upstream.baseURL + "/skin.png"
		skin, err := env.service.FromURL(ctx, rawURL, publicOpts(), requestInfo())
		require.NoError(t, err)

		require.Greater(t, skin.ID, int64(0))
		require.Regexp(t, hashRx, skin.Hash)
		require.Equal(t, "Test Skin", skin.Name)
		require.Equal(t, skins.VariantClassic, skin.Variant)
		require.Equal(t, env.upstream.baseURL+"/texture/current", skin.TextureURL)
		require.Equal(t, "upstream-signature", skin.Signature)
		require.Regexp(t, hashRx, skin.MojangHash)
		require.EqualValues(t, 1, skin.AccountID)
		require.Equal(t, "test-node", skin.Server)
		require.Equal(t, rawURL, skin.Source)
		require.Equal(t, "api", skin.Via)

		// the upstream was pointed at the resolved url
		require.Equal(t, 1, env.upstream.changeCount())
		change := env.upstream.lastChange()
		require.Equal(t, rawURL, change.URL)
		require.Equal(t, string(skins.VariantClassic), change.Variant)

		// the end user travels as X-Forwarded-For, the account's home
		// address as REMOTE_ADDR
		require.Equal(t, "203.0.113.7", change.XForwardedFor)
		require.Equal(t, "198.51.100.42", change.RemoteAddr)

		// the lease was released as a success
		account := db.Account(1)
		require.Equal(t, 1, account.SuccessCounter)
		require.Equal(t, 0, account.ErrorCounter)
	})
}

func TestFromURLFollowsRedirect(t *testing.T) {
	mineskindbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mineskindbtest.DB) {
		env := newEnv(ctx, t, db)
		env.addAccount(1)

		rawURL := env.upstream.baseURL + "/redirect"
		skin, err := env.service.FromURL(ctx, rawURL, publicOpts(), requestInfo())
		require.NoError(t, err)
		require.Equal(t, rawURL, skin.Source)

		require.Equal(t, env.upstream.baseURL+"/skin.png", env.upstream.lastChange().URL)
	})
}

func TestFromURLCatalogDuplicate(t *testing.T) {
	mineskindbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mineskindbtest.DB) {
		env := newEnv(ctx, t, db)
		opts := publicOpts()
		db.AddSkin(skins.Skin{
			ID:         700856086,
			Name:       opts.Name,
			Variant:    skins.VariantClassic,
			Visibility: opts.Visibility,
		})
		opts.Variant = skins.VariantClassic

		skin, err := env.service.FromURL(ctx, "https://mineskin.org/700856086", opts, requestInfo())
		require.NoError(t, err)
		require.EqualValues(t, 700856086, skin.ID)
		require.EqualValues(t, 1, skin.DuplicateCount)

		// nothing was generated
		require.Equal(t, 0, env.upstream.changeCount())
		require.Equal(t, 1, db.SkinCount())
	})
}

func TestFromURLRejections(t *testing.T) {
	mineskindbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mineskindbtest.DB) {
		env := newEnv(ctx, t, db)
		env.addAccount(1)

		t.Run("disallowed host", func(t *testing.T) {
			_, err := env.service.FromURL(ctx, "https://evil.example.com/skin.png", publicOpts(), requestInfo())
			require.True(t, generator.ErrInvalidImageURL.Has(err))
		})

		t.Run("unparsable url", func(t *testing.T) {
			_, err := env.service.FromURL(ctx, "ftp://imgur.com/skin.png", publicOpts(), requestInfo())
			require.True(t, generator.ErrInvalidImageURL.Has(err))
		})

		t.Run("missing file", func(t *testing.T) {
			_, err := env.service.FromURL(ctx, env.upstream.baseURL+"/nope.png", publicOpts(), requestInfo())
			require.True(t, generator.ErrInvalidImageURL.Has(err))
		})

		t.Run("not an image", func(t *testing.T) {
			_, err := env.service.FromURL(ctx, env.upstream.baseURL+"/notes.txt", publicOpts(), requestInfo())
			require.True(t, skinimage.ErrInvalidImage.Has(err))
		})

		t.Run("oversize body", func(t *testing.T) {
			_, err := env.service.FromURL(ctx, env.upstream.baseURL+"/huge", publicOpts(), requestInfo())
			require.True(t, skinimage.ErrInvalidImage.Has(err))
		})

		t.Run("missing content type", func(t *testing.T) {
			_, err := env.service.FromURL(ctx, env.upstream.baseURL+"/opaque", publicOpts(), requestInfo())
			require.True(t, skinimage.ErrInvalidImage.Has(err))
		})

		require.Equal(t, 0, env.upstream.changeCount())
		require.Equal(t, 0, db.SkinCount())
	})
}

func TestFromUpload(t *testing.T) {
	mineskindbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mineskindbtest.DB) {
		env := newEnv(ctx, t, db)
		env.addAccount(1)

		data := skinPNG(t, 7)
		skin, err := env.service.FromUpload(ctx, data, publicOpts(), requestInfo())
		require.NoError(t, err)
		require.Equal(t, "upload", skin.Source)
		require.Equal(t, skins.VariantClassic, skin.Variant)

		change := env.upstream.lastChange()
		require.Equal(t, len(data), change.FileBytes)
		require.Equal(t, string(skins.VariantClassic), change.Variant)
	})
}

func TestFromUploadDuplicateHash(t *testing.T) {
	mineskindbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mineskindbtest.DB) {
		env := newEnv(ctx, t, db)
		env.addAccount(1)

		data := skinPNG(t, 7)
		first, err := env.service.FromUpload(ctx, data, publicOpts(), requestInfo())
		require.NoError(t, err)

		// the same pixels with the same options come back from the catalog,
		// even while the only account is cooling down
		second, err := env.service.FromUpload(ctx, data, publicOpts(), requestInfo())
		require.NoError(t, err)
		require.Equal(t, first.ID, second.ID)
		require.EqualValues(t, 1, second.DuplicateCount)

		require.Equal(t, 1, env.upstream.changeCount())
		require.Equal(t, 1, db.SkinCount())
	})
}

func TestFromUploadDistinctOptions(t *testing.T) {
	mineskindbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mineskindbtest.DB) {
		env := newEnv(ctx, t, db)
		env.addAccount(1)
		env.addAccount(2)

		data := skinPNG(t, 7)
		first, err := env.service.FromUpload(ctx, data, publicOpts(), requestInfo())
		require.NoError(t, err)

		// a different variant is a different identity and generates again
		slim := publicOpts()
		slim.Variant = skins.VariantSlim
		second, err := env.service.FromUpload(ctx, data, slim, requestInfo())
		require.NoError(t, err)
		require.NotEqual(t, first.ID, second.ID)
		require.Equal(t, skins.VariantSlim, second.Variant)

		require.Equal(t, 2, env.upstream.changeCount())
		require.Equal(t, string(skins.VariantSlim), env.upstream.lastChange().Variant)
		require.Equal(t, 2, db.SkinCount())
	})
}

func TestFromUploadNoAccount(t *testing.T) {
	mineskindbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mineskindbtest.DB) {
		env := newEnv(ctx, t, db)

		_, err := env.service.FromUpload(ctx, skinPNG(t, 7), publicOpts(), requestInfo())
		require.True(t, accountpool.ErrNoAccount.Has(err))
	})
}

func TestFromUploadSkinChangeFailure(t *testing.T) {
	mineskindbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mineskindbtest.DB) {
		env := newEnv(ctx, t, db)
		env.addAccount(1)
		env.upstream.skinChangeFail = true

		_, err := env.service.FromUpload(ctx, skinPNG(t, 7), publicOpts(), requestInfo())
		require.True(t, mojang.ErrSkinChange.Has(err))
		require.Contains(t, err.Error(), "upstream exploded")

		// a plain upstream failure burns error budget without parking
		account := db.Account(1)
		require.Equal(t, 1, account.ErrorCounter)
		require.Equal(t, 0, account.SuccessCounter)
		require.EqualValues(t, 1, account.TotalErrorCounter)
		require.EqualValues(t, 0, account.ForcedTimeoutAtSec)
		require.Equal(t, 0, db.SkinCount())
	})
}

func TestFromUploadAuthFailureParksAccount(t *testing.T) {
	mineskindbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mineskindbtest.DB) {
		env := newEnv(ctx, t, db)
		env.addAccount(1)
		env.upstream.authFail = true

		_, err := env.service.FromUpload(ctx, skinPNG(t, 7), publicOpts(), requestInfo())
		require.Error(t, err)

		account := db.Account(1)
		require.Equal(t, 1, account.ErrorCounter)
		require.Equal(t, 0, account.SuccessCounter)
		require.Greater(t, account.ForcedTimeoutAtSec, int64(0))
		require.Equal(t, 0, db.SkinCount())
	})
}

func TestFromUser(t *testing.T) {
	mineskindbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mineskindbtest.DB) {
		env := newEnv(ctx, t, db)
		env.upstream.model = "slim"

		const input = "A1B2C3D4E5F607182930415263748596"
		skin, err := env.service.FromUser(ctx, input, publicOpts(), requestInfo())
		require.NoError(t, err)

		require.Equal(t, "a1b2c3d4-e5f6-0718-2930-415263748596", skin.UUID)
		require.Equal(t, skin.UUID, skin.Source)
		require.Equal(t, skins.VariantSlim, skin.Variant)
		require.Equal(t, env.upstream.baseURL+"/texture/current", skin.TextureURL)
		require.Equal(t, "upstream-signature", skin.Signature)
		require.Equal(t, skin.Hash, skin.MojangHash)
		require.EqualValues(t, 0, skin.AccountID)

		// no pool account and no upstream change involved
		require.Equal(t, 0, env.upstream.changeCount())

		t.Run("second request is a duplicate", func(t *testing.T) {
			again, err := env.service.FromUser(ctx, input, publicOpts(), requestInfo())
			require.NoError(t, err)
			require.Equal(t, skin.ID, again.ID)
			require.EqualValues(t, 1, again.DuplicateCount)
			require.Equal(t, 1, db.SkinCount())
		})
	})
}

func TestFromUserInvalidUUID(t *testing.T) {
	mineskindbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mineskindbtest.DB) {
		env := newEnv(ctx, t, db)

		_, err := env.service.FromUser(ctx, "not-a-uuid", publicOpts(), requestInfo())
		require.True(t, mojang.ErrInvalidUUID.Has(err))
	})
}
