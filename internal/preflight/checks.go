package preflight

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"archivist/internal/blob"
	"archivist/internal/templates"
)

const probePrefix = "_preflight/"

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// schemaReporter is implemented by ledgers that track applied migrations.
type schemaReporter interface {
	SchemaVersion(ctx context.Context) (string, error)
}

// CheckLedger pings the metadata store with a 5-second timeout and, when the
// ledger reports it, names the applied schema version.
func CheckLedger(ctx context.Context, driver string, ledger Pinger) Result {
	const name = "Ledger"

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := ledger.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s unreachable (%v)", driver, err)}
	}
	reporter, ok := ledger.(schemaReporter)
	if !ok {
		return Result{Name: name, Passed: true, Detail: driver + " reachable"}
	}
	version, err := reporter.SchemaVersion(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s reachable but schema unreadable (%v)", driver, err)}
	}
	if version == "" {
		return Result{Name: name, Detail: driver + " reachable but no migrations applied"}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable, schema %s", driver, version)}
}

// CheckStore writes, reads back, and deletes a probe object.
func CheckStore(ctx context.Context, backend string, store blob.Store) Result {
	const name = "Content store"

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	key := probePrefix + uuid.NewString()
	payload := []byte("archivist preflight " + key)
	if _, err := store.Put(checkCtx, key, payload, "text/plain"); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s write failed (%v)", backend, err)}
	}
	got, err := store.Get(checkCtx, key)
	_ = store.Delete(context.WithoutCancel(checkCtx), key)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s read failed (%v)", backend, err)}
	}
	if !bytes.Equal(got, payload) {
		return Result{Name: name, Detail: backend + " returned different bytes than were written"}
	}
	return Result{Name: name, Passed: true, Detail: backend + " read/write ok"}
}

// CheckTemplates loads the template catalog, built-ins plus any files in dir.
func CheckTemplates(dir string) Result {
	const name = "Templates"

	catalog, err := templates.Load(dir)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d available", len(catalog.List()))}
}

// CheckMangaDex calls the MangaDex API ping endpoint. It uses a 10-second
// timeout and a single attempt.
func CheckMangaDex(ctx context.Context, baseURL, userAgent string) Result {
	const name = "MangaDex API"

	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing base url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base+"/ping", nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("ping failed (%v)", err)}
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64))

	if resp.StatusCode != http.StatusOK {
		return Result{Name: name, Detail: fmt.Sprintf("ping failed (%d)", resp.StatusCode)}
	}
	if strings.TrimSpace(string(body)) != "pong" {
		return Result{Name: name, Detail: fmt.Sprintf("unexpected ping reply %q", strings.TrimSpace(string(body)))}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "ping timed out (API unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "ping timed out (API unreachable)"
	}
	return err.Error()
}
