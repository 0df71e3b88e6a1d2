package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"momoka/internal/agent"
	"momoka/internal/browser"
	"momoka/internal/config"
	"momoka/internal/credentials"
	"momoka/internal/journal"
	"momoka/internal/llm"
	mockclient "momoka/internal/llm/mockclient"
	"momoka/internal/logging"
	"momoka/internal/openai"
	"momoka/internal/prompts"
	"momoka/internal/protocol"
	"momoka/internal/session"
	"momoka/internal/state"
	"momoka/internal/tooling"
)

// Version is set via -ldflags during build
var Version = "dev"

const banner = `
.___  ___.   ______   .___  ___.   ______   __  ___       ___
|   \/   |  /  __  \  |   \/   |  /  __  \ |  |/  /      /   \
|  \  /  | |  |  |  | |  \  /  | |  |  |  ||  '  /      /  ^  \
|  |\/|  | |  |  |  | |  |\/|  | |  |  |  ||    <      /  /_\  \
|  |  |  | |  '--'  | |  |  |  | |  '--'  ||  .  \    /  _____  \
|__|  |__|  \______/  |__|  |__|  \______/ |__|\__\  /__/     \__\
`

func main() {
	var (
		promptFlag   = flag.String("p", "", "Run a single request without the interactive request prompt")
		protocolFlag = flag.String("protocol", "", "Override the action protocol (tools|text)")
		workDirFlag  = flag.String("workdir", "", "Override the work directory")
		browserFlag  = flag.String("browser", "", "Override the browser backend (http|chrome)")
		setupFlag    = flag.Bool("setup", false, "Run the setup wizard")
		listSessions = flag.Bool("list-sessions", false, "List stored conversations and exit")
		listRuns     = flag.Int("runs", 0, "List the N most recent journaled runs and exit")
		showRun      = flag.String("show", "", "Print the journaled actions of a run (id or prefix) and exit")
		versionFlag  = flag.Bool("version", false, "Print version and exit")
	)
	flag.StringVar(promptFlag, "prompt", "", "Run a single request without the interactive request prompt")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("Momoka version %s\n", Version)
		return
	}

	// A missing .env is fine; the key may come from the environment or credentials.yaml.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Ignoring .env: %v", err)
	}

	credManager := credentials.NewManager()
	if *setupFlag {
		cfg, err := config.LoadUserConfig()
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		if _, err := credentials.NewWizard(os.Stdin, os.Stdout).Onboard(credManager, cfg); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		return
	}

	if err := config.EnsureDefaultConfig(); err != nil {
		log.Fatalf("Failed to ensure default config: %v", err)
	}
	cfg, err := config.LoadUserConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if p := strings.TrimSpace(*protocolFlag); p != "" {
		name, err := protocol.ParseName(p)
		if err != nil {
			log.Fatalf("Invalid -protocol: %v", err)
		}
		cfg.Protocol = string(name)
	}
	if dir := strings.TrimSpace(*workDirFlag); dir != "" {
		cfg.WorkDir = dir
	}
	if b := strings.TrimSpace(*browserFlag); b != "" {
		cfg.Browser = b
	}

	logWriter, err := logging.Setup(cfg.LogDir, cfg.NewLogOnStart)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logWriter.Close()
	logger := logging.Logger

	states, err := state.NewManager(cfg.ConversationDir, logger)
	if err != nil {
		log.Fatalf("Failed to init state manager: %v", err)
	}
	if *listSessions {
		printSessionList(os.Stdout, states.Summaries())
		return
	}

	var jr journal.Journal = journal.Nop{}
	var store *journal.Store
	if cfg.Journal {
		store, err = journal.Open(cfg.JournalPath, logger)
		if err != nil {
			log.Fatalf("Failed to open journal: %v", err)
		}
		defer store.Close()
		jr = store
	}
	if *listRuns > 0 || *showRun != "" {
		if store == nil {
			log.Fatal("The journal is disabled (journal: false in config.yaml)")
		}
		ctx := context.Background()
		if *listRuns > 0 {
			err = printRuns(ctx, os.Stdout, store, *listRuns)
		} else {
			err = printRun(ctx, os.Stdout, store, *showRun)
		}
		if err != nil {
			log.Fatalf("Journal query failed: %v", err)
		}
		return
	}

	interactive := logging.IsTerminal(os.Stdin)
	var input agent.Input
	if interactive {
		input = agent.NewPromptInput(cfg.HistoryPath)
	} else {
		input = agent.NewLineInput(os.Stdin, os.Stdout)
	}

	client, err := buildClient(&cfg, credManager, interactive, logger)
	if err != nil {
		log.Fatalf("Failed to init LLM client: %v", err)
	}

	workDir, err := cfg.ResolvedWorkDir()
	if err != nil {
		log.Fatalf("Failed to resolve work dir: %v", err)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		log.Fatalf("Failed to create work dir: %v", err)
	}
	prompts.SetMetadata(buildEnvironmentMetadata())

	chat, err := logging.OpenChatLog(cfg.LogDir, cfg.NewLogOnStart)
	if err != nil {
		log.Fatalf("Failed to open chat log: %v", err)
	}
	defer chat.Close()

	console := logging.NewConsole(os.Stdout, cfg.MuteLog, logging.IsTerminal(os.Stdout))

	runner, err := tooling.NewProcessRunner(cfg.Encoding)
	if err != nil {
		log.Fatalf("Failed to init process runner: %v", err)
	}
	page, err := browser.New(cfg.Browser, browser.Options{
		Timeout:   cfg.BrowserTimeout(),
		UserAgent: cfg.BrowserUserAgent,
		ExecPath:  cfg.BrowserExecPath,
	})
	if err != nil {
		log.Fatalf("Failed to init browser: %v", err)
	}
	defer page.Close()

	sess := session.New(workDir)
	executor := tooling.NewExecutor(tooling.Options{
		Session:        sess,
		Runner:         runner,
		Browser:        page,
		Asker:          agent.UserAsker{Input: input, Reporter: console},
		Reporter:       console,
		CommandTimeout: cfg.CommandTimeout(),
		Logger:         logging.NewStructuredLogger(logger, "executor", false),
	})

	agentInstance, err := agent.New(cfg, agent.Options{
		Client:   client,
		Executor: executor,
		Session:  sess,
		States:   states,
		Journal:  jr,
		Input:    input,
		Reporter: console,
		Chat:     chat,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("Failed to init agent: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Print(banner + "\n")
	fmt.Printf("---------------- Welcome back! This is Momoka %s ----------------\n", Version)

	request := strings.TrimSpace(*promptFlag)
	if request == "" {
		request, err = input.ReadLine(ctx, "Please enter your request: ")
		if err != nil && !errors.Is(err, io.EOF) {
			log.Fatalf("Failed to read request: %v", err)
		}
	}
	if request == "" {
		fmt.Println("No request given.")
		return
	}
	logging.UserLog("request: %s", request)

	if err := agentInstance.Run(ctx, request); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Println("\nCancelled.")
			return
		}
		logging.ErrorLog("run failed: %v", err)
		log.Fatalf("Run failed: %v", err)
	}
}

// buildClient returns the mock client when MOMOKA_MOCK_LLM=1, otherwise an
// OpenAI-compatible client. A missing key starts the setup wizard on a TTY.
func buildClient(cfg *config.Config, creds *credentials.Manager, interactive bool, logger *log.Logger) (llm.Client, error) {
	if os.Getenv("MOMOKA_MOCK_LLM") == "1" {
		logger.Println("MOMOKA_MOCK_LLM=1 detected; using mock LLM client")
		return mockclient.New(), nil
	}
	key, err := creds.ResolveAPIKey(cfg.BaseURL)
	if err != nil {
		if !interactive {
			return nil, err
		}
		updated, werr := credentials.NewWizard(os.Stdin, os.Stdout).Onboard(creds, *cfg)
		if werr != nil {
			return nil, werr
		}
		*cfg = updated
		if key, err = creds.ResolveAPIKey(cfg.BaseURL); err != nil {
			return nil, err
		}
	}
	logger.Printf("OpenAI-compatible provider ready (%s, model %s)", cfg.BaseURL, cfg.Model)
	return openai.NewClient(cfg.BaseURL, key, cfg.RequestTimeout(), logger), nil
}

func buildEnvironmentMetadata() string {
	now := time.Now()
	zoneName, offset := now.Zone()
	if strings.TrimSpace(zoneName) == "" {
		zoneName = "Local"
	}
	lines := []string{
		fmt.Sprintf("- OS: %s (%s)", runtime.GOOS, runtime.GOARCH),
	}
	if shell := detectShell(); shell != "" {
		lines = append(lines, fmt.Sprintf("- Shell: %s", shell))
	}
	lines = append(lines, fmt.Sprintf("- Date: %s", now.Format("2006-01-02")))
	lines = append(lines, fmt.Sprintf("- Timezone: %s (UTC%s)", zoneName, formatUTCOffset(offset)))
	if locale := detectLocale(); locale != "" {
		lines = append(lines, fmt.Sprintf("- System Language: %s", locale))
	}
	return strings.Join(lines, "\n")
}

func detectShell() string {
	if shell := strings.TrimSpace(os.Getenv("SHELL")); shell != "" {
		return shell
	}
	if shell := strings.TrimSpace(os.Getenv("COMSPEC")); shell != "" {
		return shell
	}
	return ""
}

func detectLocale() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			return val
		}
	}
	return ""
}

func formatUTCOffset(offsetSeconds int) string {
	sign := "+"
	if offsetSeconds < 0 {
		sign = "-"
		offsetSeconds = -offsetSeconds
	}
	hours := offsetSeconds / 3600
	minutes := (offsetSeconds % 3600) / 60
	return fmt.Sprintf("%s%02d:%02d", sign, hours, minutes)
}
