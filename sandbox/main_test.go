package sandbox

import (
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// workerModeEnv switches the test binary into a worker process. The spawner
// clears the environment, so only children ever see it.
const workerModeEnv = "SNIPPETBOX_TEST_WORKER"

func TestMain(m *testing.M) {
	switch os.Getenv(workerModeEnv) {
	case "":
		os.Exit(m.Run())
	case "crash":
		os.Exit(3)
	case "garbage":
		out := os.NewFile(ResultFD, "result")
		_, _ = out.WriteString("not json")
		os.Exit(0)
	case "stubborn":
		signal.Ignore(syscall.SIGTERM)
		time.Sleep(time.Hour)
		os.Exit(0)
	default:
		os.Exit(RunWorkerProcess())
	}
}

// testSpawner starts the test binary itself as a worker in the given mode.
func testSpawner(t *testing.T, mode string) *ProcessSpawner {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return NewProcessSpawner(exe, nil, []string{workerModeEnv + "=" + mode})
}
