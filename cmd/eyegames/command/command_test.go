package command

import (
	"bytes"
	"net"
	"os"
	"strconv"
	"testing"

	"eyegames/internal/config"
	"eyegames/internal/handlerclient"
	"eyegames/internal/session"
	"eyegames/internal/tracker/trackertest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	var err error
	if cfg, err = config.LoadConfig(); err != nil {
		panic(err)
	}
	registerFlags()
	os.Exit(m.Run())
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestTrackerInfo(t *testing.T) {
	srv, err := trackertest.Start("127.0.0.1:0")
	require.NoError(t, err)
	defer srv.Close()

	out := run(t, "tracker", "info", "--host", srv.Host(), "--port", strconv.Itoa(srv.Port()))
	assert.Contains(t, out, "Screen:      1920x1080")
	assert.Contains(t, out, "Calibrated:  false")
}

func TestSessionJoinPlaysRounds(t *testing.T) {
	srv := session.NewServer("127.0.0.1:0", session.Options{})
	require.NoError(t, srv.Listen())
	go srv.Serve()
	defer srv.Stop()

	port := srv.ListenAddr().(*net.TCPAddr).Port
	out := run(t, "session", "join", "--host", "127.0.0.1", "--port", strconv.Itoa(port),
		"--id", "solo", "--players", "1", "--contributions", "4,6", "--endowment", "20", "--multiplier", "1.6")

	assert.Contains(t, out, "All set up: [127.0.0.1]")
	assert.Contains(t, out, "Round 1\n")
	assert.Contains(t, out, "payoff  22.40")
	assert.Contains(t, out, "Round 2\n")
	assert.Contains(t, out, "payoff  23.60")
}

func TestPrintRound(t *testing.T) {
	game := handlerclient.PublicGoods{Endowment: 20, TotalMultiplier: 1.6, NumPlayers: 2}
	contributions := map[string]float64{"10.0.0.2": 10, "10.0.0.1": 0}
	result, err := game.Settle(contributions)
	require.NoError(t, err)

	var out bytes.Buffer
	printRound(&out, 3, contributions, result)

	want := "Round 3\n" +
		"  10.0.0.1               contributed   0.00  payoff  28.00\n" +
		"  10.0.0.2               contributed  10.00  payoff  18.00\n" +
		"  mean contribution 5.00, mean payoff 23.00\n"
	assert.Equal(t, want, out.String())
}
