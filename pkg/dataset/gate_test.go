package dataset

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fluxcd/pkg/lockedfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/glorpus-work/datasets/pkg/archive"
	archivemocks "github.com/glorpus-work/datasets/pkg/archive/mocks"
	"github.com/glorpus-work/datasets/pkg/download"
	downloadmocks "github.com/glorpus-work/datasets/pkg/download/mocks"
	"github.com/glorpus-work/datasets/pkg/errors"
	"github.com/glorpus-work/datasets/pkg/layout"
	"github.com/glorpus-work/datasets/pkg/model"
	"github.com/glorpus-work/datasets/pkg/verify"
	verifymocks "github.com/glorpus-work/datasets/pkg/verify/mocks"
	"github.com/glorpus-work/datasets/test/testutil"
)

var bunnyMesh = []byte("ply\nformat ascii 1.0\nelement vertex 2\nend_header\n0 0 0\n1 1 1\n")

func newGate(t *testing.T, root string, opts ...Option) *CacheGate {
	t.Helper()
	resolver, err := layout.NewResolver(root)
	require.NoError(t, err)
	verifier, err := verify.NewVerifier("sha256")
	require.NoError(t, err)
	return NewGate(resolver, download.NewFetcher(5*time.Second, ""), verifier, archive.NewManager(), opts...)
}

func bunnyDescriptor(server *testutil.MirrorServer) model.Descriptor {
	return model.Descriptor{
		Prefix:   "Bunny",
		URLs:     []string{server.Add("/mirror1/BunnyMesh.ply", bunnyMesh)},
		Checksum: testutil.SHA256(bunnyMesh),
	}
}

func TestEnsureReadyBunnyEndToEnd(t *testing.T) {
	server := testutil.NewMirrorServer(t)
	root := t.TempDir()

	ds, err := newGate(t, root).EnsureReady(context.Background(), bunnyDescriptor(server))
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(ds.ArtifactPath(), filepath.Join("download", "Bunny", "BunnyMesh.ply")))
	assert.Equal(t, filepath.Join(root, "download", "Bunny"), ds.DownloadDir())
	assert.Equal(t, filepath.Join(root, "extract", "Bunny"), ds.ExtractDir())

	sum, err := verify.Compute(ds.ArtifactPath(), verify.SHA256)
	require.NoError(t, err)
	assert.Equal(t, testutil.SHA256(bunnyMesh), sum)
	assert.NoDirExists(t, ds.ExtractDir())
}

func TestEnsureReadySecondCallIsNoOp(t *testing.T) {
	server := testutil.NewMirrorServer(t)
	desc := bunnyDescriptor(server)
	root := t.TempDir()

	first, err := newGate(t, root).EnsureReady(context.Background(), desc)
	require.NoError(t, err)
	require.Equal(t, 1, server.TotalHits())

	// A fresh gate stands in for a later process run.
	second, err := newGate(t, root).EnsureReady(context.Background(), desc)
	require.NoError(t, err)
	assert.Equal(t, 1, server.TotalHits())
	assert.Equal(t, first.ArtifactPath(), second.ArtifactPath())
}

func TestEnsureReadyExtractsArchive(t *testing.T) {
	server := testutil.NewMirrorServer(t)
	content := testutil.Zip(t,
		testutil.Entry{Name: "cloud_bin_0.pcd", Body: []byte("pcd0")},
		testutil.Entry{Name: "cloud_bin_1.pcd", Body: []byte("pcd1")},
		testutil.Entry{Name: "init.log", Body: []byte("log")},
	)
	desc := model.Descriptor{
		Prefix:   "DemoICPPointClouds",
		URLs:     []string{server.Add("/DemoICPPointClouds.zip", content)},
		Checksum: testutil.SHA256(content),
		Extract:  true,
		Files:    []string{"cloud_bin_0.pcd", "cloud_bin_1.pcd", "init.log"},
	}
	root := t.TempDir()
	gate := newGate(t, root)

	ds, err := gate.EnsureReady(context.Background(), desc)
	require.NoError(t, err)
	assert.Equal(t, ds.ExtractDir(), ds.BaseDir())
	assert.FileExists(t, filepath.Join(ds.ExtractDir(), "cloud_bin_1.pcd"))
	assert.FileExists(t, ds.ArtifactPath(), "artifact is kept for reuse")

	// Losing part of the extracted tree re-extracts from the kept artifact
	// without touching the network.
	require.NoError(t, os.Remove(filepath.Join(ds.ExtractDir(), "init.log")))
	_, err = gate.EnsureReady(context.Background(), desc)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(ds.ExtractDir(), "init.log"))
	assert.Equal(t, 1, server.TotalHits())
}

func TestEnsureReadyCopiesFlatArtifact(t *testing.T) {
	server := testutil.NewMirrorServer(t)
	desc := bunnyDescriptor(server)
	desc.Copy = true

	ds, err := newGate(t, t.TempDir()).EnsureReady(context.Background(), desc)
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(ds.ExtractDir(), "BunnyMesh.ply"))
	require.NoError(t, err)
	assert.Equal(t, bunnyMesh, got)
	assert.Equal(t, ds.ExtractDir(), ds.BaseDir())
}

func TestEnsureReadyIntegrityFailure(t *testing.T) {
	server := testutil.NewMirrorServer(t)
	desc := bunnyDescriptor(server)
	server.Add("/mirror1/BunnyMesh.ply", []byte("tampered"))
	root := t.TempDir()
	gate := newGate(t, root)

	_, err := gate.EnsureReady(context.Background(), desc)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrIntegrity)

	artifact := filepath.Join(root, "download", "Bunny", "BunnyMesh.ply")
	got, err := os.ReadFile(artifact)
	require.NoError(t, err, "the unverified artifact is left for inspection")
	assert.Equal(t, "tampered", string(got))

	_, satisfied, err := gate.Inspect(desc)
	require.NoError(t, err)
	assert.False(t, satisfied, "an unverified artifact never satisfies the cache")

	server.Add("/mirror1/BunnyMesh.ply", bunnyMesh)
	_, err = gate.EnsureReady(context.Background(), desc)
	require.NoError(t, err)
	assert.Equal(t, 2, server.TotalHits())
}

func TestEnsureReadyDetectsTamperingAfterFetch(t *testing.T) {
	server := testutil.NewMirrorServer(t)
	desc := bunnyDescriptor(server)
	gate := newGate(t, t.TempDir())

	ds, err := gate.EnsureReady(context.Background(), desc)
	require.NoError(t, err)

	altered := append([]byte(nil), bunnyMesh...)
	altered[0] = 'P'
	require.NoError(t, os.WriteFile(ds.ArtifactPath(), altered, 0o644))

	_, satisfied, err := gate.Inspect(desc)
	require.NoError(t, err)
	assert.False(t, satisfied)

	_, err = gate.EnsureReady(context.Background(), desc)
	require.NoError(t, err)
	assert.Equal(t, 2, server.TotalHits())
}

func TestEnsureReadyPathTraversal(t *testing.T) {
	server := testutil.NewMirrorServer(t)
	content := testutil.TarGz(t,
		testutil.Entry{Name: "ok.txt", Body: []byte("ok")},
		testutil.Entry{Name: "../../evil", Body: []byte("pwned")},
	)
	desc := model.Descriptor{
		Prefix:   "Evil",
		URLs:     []string{server.Add("/evil.tar.gz", content)},
		Checksum: testutil.SHA256(content),
		Extract:  true,
	}
	root := t.TempDir()

	_, err := newGate(t, root).EnsureReady(context.Background(), desc)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPathTraversal)

	assert.NoDirExists(t, filepath.Join(root, "extract", "Evil"))
	assert.NoFileExists(t, filepath.Join(root, "evil"))
	assert.NoFileExists(t, filepath.Join(root, "extract", "evil"))
	staging, err := filepath.Glob(filepath.Join(root, "extract", ".tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, staging)
}

func TestEnsureReadyPathTraversalKeepsExistingTree(t *testing.T) {
	server := testutil.NewMirrorServer(t)
	content := testutil.TarGz(t, testutil.Entry{Name: "../../evil", Body: []byte("pwned")})
	desc := model.Descriptor{
		Prefix:   "Evil",
		URLs:     []string{server.Add("/evil.tar.gz", content)},
		Checksum: testutil.SHA256(content),
		Extract:  true,
	}
	root := t.TempDir()
	previous := filepath.Join(root, "extract", "Evil", "previous.ply")
	testutil.WriteFile(t, previous, []byte("older extraction"))
	gate := newGate(t, root)

	_, err := gate.EnsureReady(context.Background(), desc)
	require.ErrorIs(t, err, errors.ErrPathTraversal)

	got, err := os.ReadFile(previous)
	require.NoError(t, err)
	assert.Equal(t, "older extraction", string(got))
	assert.NoFileExists(t, filepath.Join(root, "download", "Evil", "evil.tar.gz"))

	_, satisfied, err := gate.Inspect(desc)
	require.NoError(t, err)
	assert.False(t, satisfied)
}

func TestEnsureReadyConcurrent(t *testing.T) {
	server := testutil.NewMirrorServer(t)
	content := testutil.TarGz(t, testutil.Entry{Name: "KnotMesh.ply", Body: []byte("knot")})
	desc := model.Descriptor{
		Prefix:   "Knot",
		URLs:     []string{server.Add("/knot.tar.gz", content)},
		Checksum: testutil.SHA256(content),
		Extract:  true,
		Files:    []string{"KnotMesh.ply"},
	}
	server.SetDelay(100 * time.Millisecond)
	root := t.TempDir()

	var mu sync.Mutex
	extractions := 0
	hooks := Hooks{OnEvent: func(e Event) {
		if e.Phase == PhaseExtracting {
			mu.Lock()
			extractions++
			mu.Unlock()
		}
	}}
	// Two gates model two processes sharing the cache root.
	gates := []*CacheGate{newGate(t, root, WithHooks(hooks)), newGate(t, root, WithHooks(hooks))}

	const n = 8
	results := make([]*Dataset, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = gates[i%len(gates)].EnsureReady(context.Background(), desc)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].ExtractDir(), results[i].ExtractDir())
		assert.Equal(t, results[0].ArtifactPath(), results[i].ArtifactPath())
	}
	assert.Equal(t, 1, server.TotalHits())
	assert.Equal(t, 1, extractions)
	assert.FileExists(t, filepath.Join(root, "extract", "Knot", "KnotMesh.ply"))
}

func TestEnsureReadyConcurrentDescriptorsSharingPrefix(t *testing.T) {
	server := testutil.NewMirrorServer(t)
	contentA := []byte("content A")
	contentB := []byte("content B, a different release")
	descA := model.Descriptor{
		Prefix:   "Shared",
		URLs:     []string{server.Add("/a/data.bin", contentA)},
		Checksum: testutil.SHA256(contentA),
	}
	descB := model.Descriptor{
		Prefix:   "Shared",
		URLs:     []string{server.Add("/b/data.bin", contentB)},
		Checksum: testutil.SHA256(contentB),
	}
	server.SetDelay(100 * time.Millisecond)

	var mu sync.Mutex
	verified := map[string]int{}
	hooks := Hooks{OnEvent: func(e Event) {
		if e.Phase == PhaseVerifying {
			mu.Lock()
			verified[e.Prefix]++
			mu.Unlock()
		}
	}}
	gate := newGate(t, t.TempDir(), WithHooks(hooks))

	descs := []model.Descriptor{descA, descB}
	errs := make([]error, len(descs))
	var wg sync.WaitGroup
	for i := range descs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = gate.EnsureReady(context.Background(), descs[i])
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	// Each descriptor fetched and checked its own artifact.
	assert.Equal(t, 2, server.TotalHits())
	assert.Equal(t, 2, verified["Shared"])

	_, satisfiedA, err := gate.Inspect(descA)
	require.NoError(t, err)
	_, satisfiedB, err := gate.Inspect(descB)
	require.NoError(t, err)
	assert.NotEqual(t, satisfiedA, satisfiedB, "exactly one release is on disk")
}

func TestEnsureReadyCancelledBeforeStart(t *testing.T) {
	server := testutil.NewMirrorServer(t)
	desc := bunnyDescriptor(server)

	var mu sync.Mutex
	var phases []Phase
	gate := newGate(t, t.TempDir(), WithHooks(Hooks{OnEvent: func(e Event) {
		mu.Lock()
		phases = append(phases, e.Phase)
		mu.Unlock()
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := gate.EnsureReady(ctx, desc)
	require.ErrorIs(t, err, errors.ErrCancelled)

	// The next call either joins the cancelled run or starts after it ended,
	// so every event below comes from this call alone.
	_, err = gate.EnsureReady(context.Background(), desc)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Phase{PhaseChecking, PhaseFetching, PhaseVerifying, PhaseReady}, phases)
	assert.Equal(t, 1, server.TotalHits())
}

func TestEnsureReadyDisconnectThenRetry(t *testing.T) {
	server := testutil.NewMirrorServer(t)
	desc := bunnyDescriptor(server)
	server.DisconnectNext("/mirror1/BunnyMesh.ply", 1)
	root := t.TempDir()
	gate := newGate(t, root)

	_, err := gate.EnsureReady(context.Background(), desc)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrFetch)
	assert.NoFileExists(t, filepath.Join(root, "download", "Bunny", "BunnyMesh.ply"))

	ds, err := gate.EnsureReady(context.Background(), desc)
	require.NoError(t, err)
	got, err := os.ReadFile(ds.ArtifactPath())
	require.NoError(t, err)
	assert.Equal(t, bunnyMesh, got)
}

func TestEnsureReadyCancelled(t *testing.T) {
	server := testutil.NewMirrorServer(t)
	desc := bunnyDescriptor(server)
	server.SetDelay(2 * time.Second)
	root := t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newGate(t, root).EnsureReady(ctx, desc)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCancelled)
	assert.NotErrorIs(t, err, errors.ErrFetch)
	assert.NoFileExists(t, filepath.Join(root, "download", "Bunny", "BunnyMesh.ply"))
}

func TestEnsureReadyLockTimeout(t *testing.T) {
	server := testutil.NewMirrorServer(t)
	desc := bunnyDescriptor(server)
	root := t.TempDir()

	lockPath := filepath.Join(root, ".locks", "Bunny.lock")
	require.NoError(t, os.MkdirAll(filepath.Dir(lockPath), 0o755))
	unlock, err := lockedfile.MutexAt(lockPath).Lock()
	require.NoError(t, err)

	_, err = newGate(t, root, WithLockTimeout(50*time.Millisecond)).EnsureReady(context.Background(), desc)
	assert.ErrorIs(t, err, errors.ErrLockTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = newGate(t, root).EnsureReady(ctx, desc)
	assert.ErrorIs(t, err, errors.ErrCancelled)

	unlock()
	_, err = newGate(t, root, WithLockTimeout(time.Second)).EnsureReady(context.Background(), desc)
	require.NoError(t, err)
	assert.Equal(t, 1, server.TotalHits())
}

func TestEnsureReadyInvalidDescriptor(t *testing.T) {
	gate := newGate(t, t.TempDir())

	_, err := gate.EnsureReady(context.Background(), model.Descriptor{Prefix: "../escape", URLs: []string{"https://h/x.zip"}, Checksum: "x"})
	assert.ErrorIs(t, err, errors.ErrInvalidPrefix)

	_, err = gate.EnsureReady(context.Background(), model.Descriptor{Prefix: "NoURLs", Checksum: "x"})
	assert.ErrorIs(t, err, errors.ErrInvalidDescriptor)
}

func TestEnsureReadyDataRootOverride(t *testing.T) {
	server := testutil.NewMirrorServer(t)
	desc := bunnyDescriptor(server)
	override := t.TempDir()
	desc.DataRoot = override

	ds, err := newGate(t, t.TempDir()).EnsureReady(context.Background(), desc)
	require.NoError(t, err)
	assert.Equal(t, override, ds.DataRoot())
	assert.FileExists(t, filepath.Join(override, "download", "Bunny", "BunnyMesh.ply"))
}

func TestEnsureReadyEventOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := downloadmocks.NewMockFetcher(ctrl)
	verifier := verifymocks.NewMockVerifier(ctrl)
	extractor := archivemocks.NewMockExtractor(ctrl)

	root := t.TempDir()
	resolver, err := layout.NewResolver(root)
	require.NoError(t, err)

	var phases []Phase
	gate := NewGate(resolver, fetcher, verifier, extractor, WithHooks(Hooks{OnEvent: func(e Event) {
		phases = append(phases, e.Phase)
	}}))

	desc := model.Descriptor{
		Prefix:   "Eagle",
		URLs:     []string{"https://mirror1.example.com/Eagle.zip", "https://mirror2.example.com/Eagle.zip"},
		Checksum: "sha256:" + strings.Repeat("a", 64),
		Extract:  true,
		Files:    []string{"eagle.ply"},
	}
	downloadDir := filepath.Join(root, "download", "Eagle")
	extractDir := filepath.Join(root, "extract", "Eagle")
	artifact := filepath.Join(downloadDir, "Eagle.zip")

	fetcher.EXPECT().Fetch(gomock.Any(), desc.URLs, downloadDir, "Eagle.zip").
		DoAndReturn(func(_ context.Context, _ []string, dir, name string) (string, error) {
			testutil.WriteFile(t, filepath.Join(dir, name), []byte("zip"))
			return filepath.Join(dir, name), nil
		})
	verifier.EXPECT().Verify(artifact, desc.Checksum).Return(true, nil)
	extractor.EXPECT().Extract(gomock.Any(), artifact, extractDir, true).
		DoAndReturn(func(_ context.Context, _, dir string, _ bool) error {
			testutil.WriteFile(t, filepath.Join(dir, "eagle.ply"), []byte("ply"))
			return nil
		})

	_, err = gate.EnsureReady(context.Background(), desc)
	require.NoError(t, err)
	assert.Equal(t, []Phase{PhaseChecking, PhaseFetching, PhaseVerifying, PhaseExtracting, PhaseReady}, phases)

	// Satisfied cache: one verification, no fetch or extraction.
	phases = nil
	verifier.EXPECT().Verify(artifact, desc.Checksum).Return(true, nil)
	_, err = gate.EnsureReady(context.Background(), desc)
	require.NoError(t, err)
	assert.Equal(t, []Phase{PhaseChecking, PhaseReady}, phases)
}

func TestEnsureReadyRemovesPartialExtraction(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := downloadmocks.NewMockFetcher(ctrl)
	verifier := verifymocks.NewMockVerifier(ctrl)
	extractor := archivemocks.NewMockExtractor(ctrl)

	root := t.TempDir()
	resolver, err := layout.NewResolver(root)
	require.NoError(t, err)

	var last Event
	gate := NewGate(resolver, fetcher, verifier, extractor, WithHooks(Hooks{OnEvent: func(e Event) { last = e }}))
	desc := model.Descriptor{
		Prefix:     "Partial",
		URLs:       []string{"https://mirror.example.com/partial.tar.gz"},
		SkipVerify: true,
		Extract:    true,
	}
	extractDir := filepath.Join(root, "extract", "Partial")

	fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ []string, dir, name string) (string, error) {
			testutil.WriteFile(t, filepath.Join(dir, name), []byte("tgz"))
			return filepath.Join(dir, name), nil
		})
	extractor.EXPECT().Extract(gomock.Any(), gomock.Any(), extractDir, true).
		DoAndReturn(func(_ context.Context, _, dir string, _ bool) error {
			testutil.WriteFile(t, filepath.Join(dir, "half.bin"), []byte("x"))
			testutil.WriteFile(t, filepath.Join(filepath.Dir(dir), ".tmp-Partial-123", "x"), []byte("x"))
			return errors.ErrExtraction
		})

	_, err = gate.EnsureReady(context.Background(), desc)
	require.ErrorIs(t, err, errors.ErrExtraction)
	assert.NoDirExists(t, extractDir)
	assert.NoDirExists(t, filepath.Join(root, "extract", ".tmp-Partial-123"))
	assert.NoFileExists(t, filepath.Join(root, "download", "Partial", "partial.tar.gz"))
	assert.Equal(t, PhaseFailed, last.Phase)
	assert.ErrorIs(t, last.Err, errors.ErrExtraction)
}

func TestEnsureReadyIncompleteManifest(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := downloadmocks.NewMockFetcher(ctrl)
	verifier := verifymocks.NewMockVerifier(ctrl)
	extractor := archivemocks.NewMockExtractor(ctrl)

	root := t.TempDir()
	resolver, err := layout.NewResolver(root)
	require.NoError(t, err)
	gate := NewGate(resolver, fetcher, verifier, extractor)

	desc := model.Descriptor{
		Prefix:     "Sparse",
		URLs:       []string{"https://mirror.example.com/sparse.zip"},
		SkipVerify: true,
		Extract:    true,
		Files:      []string{"a.ply", "b.ply"},
	}
	fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ []string, dir, name string) (string, error) {
			testutil.WriteFile(t, filepath.Join(dir, name), []byte("zip"))
			return filepath.Join(dir, name), nil
		})
	extractor.EXPECT().Extract(gomock.Any(), gomock.Any(), gomock.Any(), true).
		DoAndReturn(func(_ context.Context, _, dir string, _ bool) error {
			testutil.WriteFile(t, filepath.Join(dir, "a.ply"), []byte("a"))
			return nil
		})

	_, err = gate.EnsureReady(context.Background(), desc)
	require.ErrorIs(t, err, errors.ErrExtraction)
	assert.Contains(t, err.Error(), "b.ply")
	assert.NoDirExists(t, filepath.Join(root, "extract", "Sparse"))
}

func TestInspect(t *testing.T) {
	server := testutil.NewMirrorServer(t)
	desc := bunnyDescriptor(server)
	gate := newGate(t, t.TempDir())

	ds, satisfied, err := gate.Inspect(desc)
	require.NoError(t, err)
	assert.False(t, satisfied)
	assert.Equal(t, "Bunny", ds.Prefix())
	assert.Equal(t, 0, server.TotalHits())

	_, err = gate.EnsureReady(context.Background(), desc)
	require.NoError(t, err)

	_, satisfied, err = gate.Inspect(desc)
	require.NoError(t, err)
	assert.True(t, satisfied)
}
