package cli

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"endochat/internal/domain"
	"endochat/internal/tui"
)

var (
	chatUser string
	chatLang string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat in the terminal",
	Long: `Open the terminal chat. The conversation is stored under --user and
continues where it was left. Logs go to logging.file only.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatUser, "user", "local", "user id the conversation is stored under")
	chatCmd.Flags().StringVar(&chatLang, "lang", "", "response language (en, fr, ar; empty follows the user)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	lg, err := setupLogging(cfg.Logging, false)
	if err != nil {
		return err
	}
	defer lg.Close()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	chat, err := a.chat()
	if err != nil {
		return err
	}

	go func() {
		start := time.Now()
		if err := a.search.Warm(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Search index not ready")
			return
		}
		log.Info().Dur("took", time.Since(start)).Msg("Search index ready")
	}()

	m := tui.New(chat, chatUser, domain.ParseLanguage(chatLang))
	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}
