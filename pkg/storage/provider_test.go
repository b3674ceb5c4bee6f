package storage

import (
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/pipelinestudio/pkg/graph"
	"github.com/tcmartin/pipelinestudio/pkg/models"
)

func init() {
	// Load .env file from project root
	_ = godotenv.Load("../../.env")
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testRun(i int, status models.RunStatus) models.ExecutionRun {
	end := base.Add(time.Duration(i)*time.Minute + 2*time.Second)
	return models.ExecutionRun{
		ID:             fmt.Sprintf("run-%02d", i),
		Query:          fmt.Sprintf("query %d", i),
		UserID:         "user-1",
		TenantID:       "tenant-1",
		Mode:           models.ModeLive,
		Status:         status,
		StartTime:      base.Add(time.Duration(i) * time.Minute),
		EndTime:        &end,
		TotalLatencyMs: 1234.5,
		TotalCost:      0.0042,
		Route:          "rag_knowledge_base",
		Response:       "answer",
	}
}

func testPreset(id, name string) models.Preset {
	return models.Preset{
		ID:          id,
		Name:        name,
		Description: "saved " + name,
		Pipeline: graph.Pipeline{
			Nodes: []graph.Node{
				{ID: "in", Type: "query_input", Position: graph.Position{X: 10, Y: 20}, Config: map[string]interface{}{"tenant_id": "default"}},
				{ID: "out", Type: "response_output", Position: graph.Position{X: 300, Y: 20}},
			},
			Edges: []graph.Edge{
				{ID: "e1", Source: "in", Target: "out", SourceHandle: "query", TargetHandle: "response",
					Condition: &graph.EdgeCondition{Route: "chitchat"}},
			},
		},
		CreatedAt: base,
		UpdatedAt: base.Add(time.Hour),
	}
}

// runProviderContract exercises the behaviour every provider must share
func runProviderContract(t *testing.T, p Provider) {
	t.Helper()
	require.NoError(t, p.Initialize())

	t.Run("runs", func(t *testing.T) {
		runs := p.Runs()
		_, err := runs.GetRun("missing")
		assert.ErrorIs(t, err, ErrNotFound)

		for _, i := range []int{2, 0, 3, 1} {
			require.NoError(t, runs.SaveRun(testRun(i, models.RunCompleted)))
		}

		got, err := runs.GetRun("run-02")
		require.NoError(t, err)
		assert.Equal(t, testRun(2, models.RunCompleted), got)

		updated := testRun(2, models.RunError)
		updated.Error = "backend down"
		require.NoError(t, runs.SaveRun(updated))
		got, err = runs.GetRun("run-02")
		require.NoError(t, err)
		assert.Equal(t, models.RunError, got.Status)
		assert.Equal(t, "backend down", got.Error)

		all, err := runs.ListRuns(0)
		require.NoError(t, err)
		require.Len(t, all, 4)
		var ids []string
		for _, r := range all {
			ids = append(ids, r.ID)
		}
		assert.Equal(t, []string{"run-03", "run-02", "run-01", "run-00"}, ids)

		latest, err := runs.ListRuns(2)
		require.NoError(t, err)
		require.Len(t, latest, 2)
		assert.Equal(t, "run-03", latest[0].ID)
		assert.Equal(t, "run-02", latest[1].ID)
	})

	t.Run("presets", func(t *testing.T) {
		presets := p.Presets()
		_, err := presets.GetPreset("missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, presets.DeletePreset("missing"), ErrNotFound)

		require.NoError(t, presets.SavePreset(testPreset("p2", "rag full")))
		require.NoError(t, presets.SavePreset(testPreset("p1", "direct only")))

		got, err := presets.GetPreset("p2")
		require.NoError(t, err)
		assert.Equal(t, testPreset("p2", "rag full"), got)

		list, err := presets.ListPresets()
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "direct only", list[0].Name)
		assert.Equal(t, "rag full", list[1].Name)

		renamed := testPreset("p2", "a renamed")
		require.NoError(t, presets.SavePreset(renamed))
		list, err = presets.ListPresets()
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "p2", list[0].ID)

		require.NoError(t, presets.DeletePreset("p2"))
		_, err = presets.GetPreset("p2")
		assert.ErrorIs(t, err, ErrNotFound)
		list, err = presets.ListPresets()
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	require.NoError(t, p.Close())
}

func TestMemoryProvider(t *testing.T) {
	runProviderContract(t, NewMemoryProvider())
}

func TestMemoryPresetStoreCopiesPipelines(t *testing.T) {
	s := NewMemoryPresetStore()
	preset := testPreset("p", "n")
	require.NoError(t, s.SavePreset(preset))
	preset.Pipeline.Nodes[0].ID = "changed"

	got, err := s.GetPreset("p")
	require.NoError(t, err)
	assert.Equal(t, "in", got.Pipeline.Nodes[0].ID)
}

func TestRedisProvider(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	runProviderContract(t, NewRedisProviderWithClient(client, "test:"))

	assert.True(t, mr.Exists("test:run:run-00"))
	assert.True(t, mr.Exists("test:runs"))
	assert.True(t, mr.Exists("test:presets"))
}

func TestRedisProviderInitializeFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	p, err := NewRedisProvider(RedisProviderConfig{Addr: addr})
	require.NoError(t, err)
	defer p.Close()
	assert.Error(t, p.Initialize())
}

func TestDynamoDBProvider(t *testing.T) {
	mock := NewMockDynamoDBAPI()
	runProviderContract(t, NewDynamoDBProviderWithClient(mock, "test_"))

	_, ok := mock.tables["test_runs"]
	assert.True(t, ok)
	_, ok = mock.tables["test_presets"]
	assert.True(t, ok)
}

func TestDynamoDBInitializeIsIdempotent(t *testing.T) {
	p := NewDynamoDBProviderWithClient(NewMockDynamoDBAPI(), "x_")
	require.NoError(t, p.Initialize())
	require.NoError(t, p.Initialize())
}

// TestPostgreSQLProvider requires a PostgreSQL instance.
// It is skipped unless the POSTGRES_* environment variables are set.
func TestPostgreSQLProvider(t *testing.T) {
	host := os.Getenv("POSTGRES_HOST")
	user := os.Getenv("POSTGRES_USER")
	password := os.Getenv("POSTGRES_PASSWORD")
	dbName := os.Getenv("POSTGRES_DB")

	if host == "" || user == "" || password == "" || dbName == "" {
		t.Skip("Skipping PostgreSQL tests as credentials are not set")
	}
	port, _ := strconv.Atoi(os.Getenv("POSTGRES_PORT"))

	provider, err := NewPostgreSQLProvider(PostgreSQLProviderConfig{
		Host:     host,
		Port:     port,
		User:     user,
		Password: password,
		Database: dbName,
	})
	require.NoError(t, err)
	require.NoError(t, provider.Initialize())

	_, err = provider.db.Exec(`DELETE FROM runs WHERE id LIKE 'run-%'`)
	require.NoError(t, err)
	_, err = provider.db.Exec(`DELETE FROM presets WHERE id IN ('p1', 'p2')`)
	require.NoError(t, err)

	runProviderContract(t, provider)
}

func TestPostgreSQLConnString(t *testing.T) {
	cfg := PostgreSQLProviderConfig{Host: "db", User: "u", Password: "p", Database: "d"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=d sslmode=disable", cfg.ConnString())
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(ProviderConfig{Type: MemoryProviderType})
	require.NoError(t, err)
	assert.IsType(t, &MemoryProvider{}, p)

	p, err = NewProvider(ProviderConfig{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryProvider{}, p)

	mr := miniredis.RunT(t)
	p, err = NewProvider(ProviderConfig{Type: RedisProviderType, Redis: &RedisProviderConfig{Addr: mr.Addr()}})
	require.NoError(t, err)
	assert.IsType(t, &RedisProvider{}, p)
	require.NoError(t, p.Initialize())
	require.NoError(t, p.Close())

	for _, typ := range []ProviderType{DynamoDBProviderType, PostgreSQLProviderType, RedisProviderType} {
		_, err = NewProvider(ProviderConfig{Type: typ})
		assert.Error(t, err, typ)
	}

	_, err = NewProvider(ProviderConfig{Type: "cassandra"})
	assert.EqualError(t, err, "unknown provider type: cassandra")
}
