// Package cryfsfs assembles the full block-store stack (spec.md §2's
// data flow A through J) into one open filesystem: it is the bootstrap
// code a CLI or FUSE adapter calls into, never mounted behinds a syscall
// boundary itself. Everything downstream of a FUSE operation dispatcher
// is in scope here; the dispatcher itself is not (spec.md §1).
package cryfsfs

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cryfs-go/cryfs/cfg"
	"github.com/cryfs-go/cryfs/clock"
	"github.com/cryfs-go/cryfs/internal/blockcache"
	"github.com/cryfs-go/cryfs/internal/blockid"
	"github.com/cryfs-go/cryfs/internal/blockstore"
	"github.com/cryfs-go/cryfs/internal/blockstore/ondisk"
	"github.com/cryfs-go/cryfs/internal/blobstore"
	"github.com/cryfs-go/cryfs/internal/cipher"
	"github.com/cryfs-go/cryfs/internal/cryfserrors"
	"github.com/cryfs-go/cryfs/internal/cryfslog"
	"github.com/cryfs-go/cryfs/internal/cryptoconfig"
	"github.com/cryfs-go/cryfs/internal/encryption"
	"github.com/cryfs-go/cryfs/internal/fsblobstore"
	"github.com/cryfs-go/cryfs/internal/fsnode"
	"github.com/cryfs-go/cryfs/internal/integrity"
	"github.com/cryfs-go/cryfs/internal/localstate"
	"github.com/cryfs-go/cryfs/internal/metrics"
	"github.com/cryfs-go/cryfs/internal/parallelaccess"
)

// Version is this build's version string, recorded into a filesystem's
// config on creation and stamped into last_opened_with_version on every
// successful mount (spec.md §4.I).
const Version = "0.1.0"

// ConfigFileName is the config file's name beneath a base dir, absent an
// override (spec.md §6).
const ConfigFileName = "cryfs.config"

// Filesystem bundles the open block-store stack and the fsnode.Tree an
// adapter layer looks nodes up through.
type Filesystem struct {
	Config     cryptoconfig.Config
	LocalState *localstate.State
	Tree       *fsnode.Tree

	cache         *blockcache.Store
	integ         *integrity.Store
	metricsServer *http.Server
	closed        bool
}

// configPath resolves the config file location for baseDir, honoring an
// explicit override (mirrors the CRYFS_LOCAL_STATE_DIR convention for an
// analogous CRYFS_CONFIG_FILE override, spec.md §6).
func configPath(baseDir string) string {
	if p := os.Getenv("CRYFS_CONFIG_FILE"); p != "" {
		return p
	}
	return filepath.Join(baseDir, ConfigFileName)
}

// Create initializes a brand-new filesystem at mountCfg.BaseDir: a fresh
// filesystem id and encryption key, an empty root directory blob, and a
// config file sealed under password. Fails if a config file already
// exists there.
func Create(mountCfg *cfg.Config, password string) (*Filesystem, error) {
	baseDir := string(mountCfg.BaseDir)
	path := configPath(baseDir)
	if _, err := os.Stat(path); err == nil {
		return nil, cryfserrors.New(cryfserrors.KindIO, "cryfsfs.Create: config file already exists")
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, cryfserrors.Wrap(cryfserrors.KindIO, "cryfsfs.Create", baseDir, err)
	}

	cipherName := string(mountCfg.Create.CipherName)
	entry, err := cipher.Lookup(cipherName)
	if err != nil || entry.NewAEAD == nil {
		return nil, cryfserrors.New(cryfserrors.KindWrongCipher, "cryfsfs.Create")
	}

	key := make([]byte, cipher.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, cryfserrors.Wrap(cryfserrors.KindIO, "cryfsfs.Create", "", err)
	}
	filesystemId := blockid.NewRandom()

	ls, err := localstate.Open(filesystemId.Hex(), key, false)
	if err != nil {
		return nil, err
	}

	log := newLogger(mountCfg)
	m, metricsServer := newMetrics(mountCfg, log)

	blocks, err := buildBlockStack(mountCfg, ls, log, m, cipherName, key)
	if err != nil {
		return nil, err
	}

	blobs := blobstore.New(blocks.top, mountCfg.Create.BlockSizeBytes)
	fsblobs := fsblobstore.New(blobs)
	rootDir, err := fsblobs.CreateDir(context.Background())
	if err != nil {
		return nil, err
	}

	conf := cryptoconfig.Config{
		RootBlobId:            rootDir.Id().Hex(),
		CipherName:            cipherName,
		EncryptionKeyHex:      hexEncode(key),
		BlockSizeBytes:        mountCfg.Create.BlockSizeBytes,
		FilesystemId:          filesystemId.Hex(),
		Version:               Version,
		CreatedWithVersion:    Version,
		LastOpenedWithVersion: Version,
		HasParentPointers:     false,
		HasVersionNumbers:     true,
	}
	if mountCfg.Create.SingleClientMode {
		conf.HasExclusiveClientId = true
		conf.ExclusiveClientId = uint32(ls.Metadata.ClientId)
	}
	if err := cryptoconfig.Save(path, conf, password); err != nil {
		return nil, err
	}

	tree, err := fsnode.NewTree(fsblobs, rootDir.Id())
	if err != nil {
		return nil, err
	}

	return &Filesystem{Config: conf, LocalState: ls, Tree: tree, cache: blocks.cache, integ: blocks.integ, metricsServer: metricsServer}, nil
}

// Open loads an existing filesystem at mountCfg.BaseDir, decrypting its
// config with password and rebuilding the block-store stack and object
// tree over its root blob.
func Open(mountCfg *cfg.Config, password string) (*Filesystem, error) {
	baseDir := string(mountCfg.BaseDir)
	path := configPath(baseDir)

	conf, err := cryptoconfig.Load(path, password)
	if err != nil {
		return nil, err
	}

	key, err := conf.EncryptionKey()
	if err != nil {
		return nil, err
	}

	ls, err := localstate.Open(conf.FilesystemId, key, mountCfg.Integrity.AllowReplacedFilesystem)
	if err != nil {
		return nil, err
	}
	if err := ls.CheckMountAllowed(mountCfg.Integrity.AllowIntegrityViolations); err != nil {
		return nil, err
	}
	if conf.HasExclusiveClientId && uint32(ls.Metadata.ClientId) != conf.ExclusiveClientId {
		return nil, cryfserrors.New(cryfserrors.KindSingleClientViolation, "cryfsfs.Open: filesystem is restricted to a different exclusive client id")
	}

	log := newLogger(mountCfg)
	m, metricsServer := newMetrics(mountCfg, log)

	blocks, err := buildBlockStack(mountCfg, ls, log, m, conf.CipherName, key)
	if err != nil {
		return nil, err
	}

	blobs := blobstore.New(blocks.top, conf.BlockSizeBytes)
	fsblobs := fsblobstore.New(blobs)

	rootId, err := blockid.ParseHex(conf.RootBlobId)
	if err != nil {
		return nil, cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "cryfsfs.Open", conf.RootBlobId, err)
	}

	tree, err := fsnode.NewTree(fsblobs, rootId)
	if err != nil {
		return nil, err
	}

	conf.LastOpenedWithVersion = Version
	if err := cryptoconfig.Save(path, conf, password); err != nil {
		return nil, err
	}

	return &Filesystem{Config: conf, LocalState: ls, Tree: tree, cache: blocks.cache, integ: blocks.integ, metricsServer: metricsServer}, nil
}

// Close flushes every dirty block to disk, persists the integrity
// layer's known-version state, stops the metrics HTTP endpoint (if one
// was started), and stops the cache's background sweeper.
func (fs *Filesystem) Close(ctx context.Context) error {
	if fs.closed {
		return nil
	}
	fs.closed = true
	if fs.metricsServer != nil {
		_ = fs.metricsServer.Shutdown(ctx)
	}
	if err := fs.cache.Close(ctx); err != nil {
		return err
	}
	return fs.LocalState.SaveVersions()
}

// Tainted reports whether the integrity layer has detected a violation
// during this mount.
func (fs *Filesystem) Tainted() bool {
	return fs.integ.Tainted()
}

type blockStack struct {
	top   blockstore.Store
	cache *blockcache.Store
	integ *integrity.Store
}

// buildBlockStack wires the layers in spec.md §2's order, base-up:
// on-disk store → integrity → encryption → caching → parallel-access.
func buildBlockStack(mountCfg *cfg.Config, ls *localstate.State, log *cryfslog.Logger, m metrics.Handle, cipherName string, key []byte) (blockStack, error) {
	base, err := ondisk.Open(string(mountCfg.BaseDir))
	if err != nil {
		return blockStack{}, err
	}

	onTaint := func() {
		_ = ls.Taint()
	}
	integStore := integrity.New(base, ls.Versions, log, m, onTaint)
	integStore.AllowViolations = mountCfg.Integrity.AllowIntegrityViolations
	integStore.MissingBlockIsViolation = mountCfg.Integrity.MissingBlockIsIntegrityViolation

	encStore, err := encryption.New(integStore, cipherName, key)
	if err != nil {
		return blockStack{}, err
	}

	cacheStore := blockcache.New(encStore, blockcache.Config{
		MaxEntries:    mountCfg.Cache.CapacityBlocks,
		MaxAge:        secondsToDuration(mountCfg.Cache.MaxAgeSeconds),
		SweepInterval: secondsToDuration(mountCfg.Cache.SweepIntervalSeconds),
	}, clock.RealClock{}, log, m)

	top := parallelaccess.New(cacheStore)

	return blockStack{top: top, cache: cacheStore, integ: integStore}, nil
}

// newMetrics builds the metrics.Handle the block-store stack reports
// through. With metrics.enabled unset (the default) it returns the
// no-op handle; with it set, it registers a PrometheusHandle against a
// dedicated registry and serves it over HTTP at metrics.listen-address,
// returning the *http.Server so Close can shut it down on unmount.
func newMetrics(mountCfg *cfg.Config, log *cryfslog.Logger) (metrics.Handle, *http.Server) {
	if !mountCfg.Metrics.Enabled {
		return metrics.NewNoop(), nil
	}

	reg := prometheus.NewRegistry()
	h := metrics.NewPrometheus(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: mountCfg.Metrics.ListenAddress, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics: endpoint on %s stopped: %v", mountCfg.Metrics.ListenAddress, err)
		}
	}()

	return h, srv
}

func newLogger(mountCfg *cfg.Config) *cryfslog.Logger {
	return cryfslog.New(cryfslog.Config{
		Severity:        cryfslog.Severity(mountCfg.Logging.Severity),
		Format:          mountCfg.Logging.Format,
		File:            string(mountCfg.Logging.FilePath),
		MaxFileSizeMB:   mountCfg.Logging.LogRotate.MaxFileSizeMb,
		BackupFileCount: mountCfg.Logging.LogRotate.BackupFileCount,
	})
}

func hexEncode(b []byte) string {
	return fmt.Sprintf("%x", b)
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
