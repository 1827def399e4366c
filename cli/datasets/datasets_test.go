package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/datasets/internal/cli"
	"github.com/glorpus-work/datasets/internal/logger"
	"github.com/glorpus-work/datasets/pkg/errors"
	"github.com/glorpus-work/datasets/test/testutil"
)

func TestMain(m *testing.M) {
	logger.SetTestOutput(io.Discard)
	code := m.Run()
	logger.UnsetTestOutput()
	os.Exit(code)
}

type cliEnv struct {
	mirror     *testutil.MirrorServer
	configPath string
	root       string
}

const catalogTemplate = `version: "1.0"
datasets:
  - name: Bunny
    description: Stanford bunny triangle mesh.
    urls: [%q]
    checksum: %s
    paths:
      path: BunnyMesh.ply
  - name: DemoICPPointClouds
    urls: [%q]
    checksum: %s
    extract: true
    files: [cloud_bin_0.pcd, cloud_bin_1.pcd, cloud_bin_2.pcd, init.log]
    paths:
      transformation_log: init.log
    path_lists:
      paths: ["cloud_bin_{0..2}.pcd"]
  - name: Broken
    urls: [%q]
    checksum: %s
`

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	mirror := testutil.NewMirrorServer(t)

	bunny := []byte("ply\nformat ascii 1.0\nelement vertex 0\nend_header\n")
	bunnyURL := mirror.Add("/BunnyMesh.ply", bunny)

	clouds := testutil.Zip(t,
		testutil.Entry{Name: "cloud_bin_0.pcd", Body: []byte("cloud 0")},
		testutil.Entry{Name: "cloud_bin_1.pcd", Body: []byte("cloud 1")},
		testutil.Entry{Name: "cloud_bin_2.pcd", Body: []byte("cloud 2")},
		testutil.Entry{Name: "init.log", Body: []byte("0 1 2\n")},
	)
	cloudsURL := mirror.Add("/DemoICPPointClouds.zip", clouds)

	brokenURL := mirror.Add("/Broken.bin", []byte("served bytes"))

	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "catalog.yaml")
	testutil.WriteFile(t, catalogPath, []byte(fmt.Sprintf(catalogTemplate,
		bunnyURL, testutil.SHA256(bunny),
		cloudsURL, testutil.SHA256(clouds),
		brokenURL, testutil.SHA256([]byte("expected bytes")),
	)))

	configPath := filepath.Join(dir, "config.yaml")
	testutil.WriteFile(t, configPath, []byte("settings:\n  catalog_path: "+catalogPath+"\n"))

	return &cliEnv{
		mirror:     mirror,
		configPath: configPath,
		root:       filepath.Join(dir, "data"),
	}
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", e.configPath, "--data-root", e.root}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func lines(s string) []string {
	return strings.Split(strings.TrimSpace(s), "\n")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "datasets version")
	assert.Contains(t, out.String(), "Go: "+runtime.Version())

	out.Reset()
	cmd = newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--short"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Equal(t, cli.Version+"\n", out.String())
}

func TestHelpCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"help"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "datasets fetches sample datasets into a local cache")
	assert.Contains(t, out.String(), "Available Commands")
}

func TestGetPreparesDatasets(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "get", "Bunny", "DemoICPPointClouds", "-o", "json")
	require.NoError(t, err)

	var views []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 2)

	assert.Equal(t, "Bunny", views[0]["name"])
	assert.Equal(t, true, views[0]["ready"])
	assert.Equal(t, filepath.Join(env.root, "download", "Bunny"), views[0]["base_dir"])
	assert.FileExists(t, filepath.Join(env.root, "download", "Bunny", "BunnyMesh.ply"))

	assert.Equal(t, "DemoICPPointClouds", views[1]["name"])
	assert.Equal(t, filepath.Join(env.root, "extract", "DemoICPPointClouds"), views[1]["base_dir"])
	assert.FileExists(t, filepath.Join(env.root, "extract", "DemoICPPointClouds", "init.log"))

	// everything is cached now
	hits := env.mirror.TotalHits()
	out, err = env.run(t, "get", "Bunny", "DemoICPPointClouds")
	require.NoError(t, err)
	assert.Equal(t, hits, env.mirror.TotalHits())
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "ready")
}

func TestGetDryRun(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "get", "--dry-run", "Bunny")
	require.NoError(t, err)
	assert.Contains(t, out, "missing")
	assert.Zero(t, env.mirror.TotalHits())
}

func TestGetFailures(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "get", "NoSuchDataset")
	assert.ErrorIs(t, err, errors.ErrDatasetNotFound)

	_, err = env.run(t, "get", "Broken")
	assert.ErrorIs(t, err, errors.ErrIntegrity)
	assert.FileExists(t, filepath.Join(env.root, "download", "Broken", "Broken.bin"))
}

func TestPathCommand(t *testing.T) {
	env := newCLIEnv(t)
	extractDir := filepath.Join(env.root, "extract", "DemoICPPointClouds")

	out, err := env.run(t, "path", "DemoICPPointClouds")
	require.NoError(t, err)
	assert.Equal(t, extractDir, strings.TrimSpace(out))

	out, err = env.run(t, "path", "DemoICPPointClouds", "paths")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(extractDir, "cloud_bin_0.pcd"),
		filepath.Join(extractDir, "cloud_bin_1.pcd"),
		filepath.Join(extractDir, "cloud_bin_2.pcd"),
	}, lines(out))

	out, err = env.run(t, "path", "DemoICPPointClouds", "--keys")
	require.NoError(t, err)
	assert.Equal(t, []string{"paths", "transformation_log"}, lines(out))

	out, err = env.run(t, "path", "Bunny", "path")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.root, "download", "Bunny", "BunnyMesh.ply"), strings.TrimSpace(out))

	_, err = env.run(t, "path", "Bunny", "color")
	assert.ErrorIs(t, err, errors.ErrUnknownPathKey)

	assert.Zero(t, env.mirror.TotalHits(), "path must not download")
}

func TestListAndCache(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "get", "Bunny", "DemoICPPointClouds")
	require.NoError(t, err)

	out, err := env.run(t, "list", "--ready")
	require.NoError(t, err)
	assert.Contains(t, out, "Stanford bunny triangle mesh.")
	assert.Contains(t, out, "DemoICPPointClouds")
	assert.NotContains(t, out, "Broken")

	out, err = env.run(t, "cache", "dir")
	require.NoError(t, err)
	assert.Equal(t, env.root, strings.TrimSpace(out))

	out, err = env.run(t, "cache", "info")
	require.NoError(t, err)
	assert.Contains(t, out, "Cache Information:")
	assert.Contains(t, out, "Bunny")

	out, err = env.run(t, "cache", "clean", "--prefix", "Bunny")
	require.NoError(t, err)
	assert.Contains(t, out, "Successfully cleaned cache.")
	assert.NoDirExists(t, filepath.Join(env.root, "download", "Bunny"))

	out, err = env.run(t, "list", "-o", "json")
	require.NoError(t, err)
	var views []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	ready := map[string]bool{}
	for _, v := range views {
		ready[v["name"].(string)] = v["ready"].(bool)
	}
	assert.Equal(t, map[string]bool{"Bunny": false, "Broken": false, "DemoICPPointClouds": true}, ready)
}

func TestFetchAdHoc(t *testing.T) {
	env := newCLIEnv(t)
	tarball := testutil.TarGz(t,
		testutil.Entry{Name: "scene", Dir: true},
		testutil.Entry{Name: "scene/integrated.ply", Body: []byte("mesh")},
	)
	primary := env.mirror.URLFor("/missing/scene.tar.gz")
	mirror := env.mirror.Add("/scene.tar.gz", tarball)

	out, err := env.run(t, "fetch",
		"--prefix", "Scene",
		"--url", primary,
		"--url", mirror,
		"--checksum", testutil.SHA256(tarball),
		"--extract",
		"--files", "scene/integrated.ply",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Scene")
	assert.FileExists(t, filepath.Join(env.root, "extract", "Scene", "scene", "integrated.ply"))

	_, err = env.run(t, "fetch", "--prefix", "../Scene", "--url", mirror, "--checksum", testutil.SHA256(tarball))
	assert.ErrorIs(t, err, errors.ErrInvalidPrefix)
}

func TestConfigCommands(t *testing.T) {
	env := newCLIEnv(t)
	env.configPath = filepath.Join(t.TempDir(), "fresh", "config.yaml")

	_, err := env.run(t, "config", "init")
	require.NoError(t, err)
	assert.FileExists(t, env.configPath)

	_, err = env.run(t, "config", "init")
	assert.ErrorIs(t, err, errors.ErrConfigFileExists)

	_, err = env.run(t, "config", "set", "max_concurrent", "2")
	require.NoError(t, err)

	out, err := env.run(t, "config", "get", "max_concurrent")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	_, err = env.run(t, "config", "set", "colour", "blue")
	assert.ErrorIs(t, err, errors.ErrUnknownConfigKey)

	out, err = env.run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "checksum_algorithm")
	assert.Contains(t, out, "sha256")
}
