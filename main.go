// @title 试卷评阅后端 API
// @version 1.0
// @description 上传试卷与答卷 PDF，由多模态模型提取题目结构并逐页评阅。
// @termsOfService http://swagger.io/terms/

// @contact.name API支持
// @contact.url http://www.swagger.io/support
// @contact.email support@swagger.io

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package main

import (
	"exam_eval_backend/internal/app"
	"exam_eval_backend/internal/config"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configDir    string
	forceMigrate bool
)

var rootCmd = &cobra.Command{
	Use:   "exam-eval",
	Short: "Exam evaluation backend",
	Long: `Exam evaluation backend: teachers upload a question paper and scanned answer
scripts as PDFs, the service extracts the question structure with a multimodal
model and grades every answer page in the background.`,
	SilenceUsage: true,
	RunE:         serve,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and background workers",
	RunE:  serve,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configDir)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg.ForceMigrate = true
		if err := app.Migrate(cfg); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Println("数据库迁移完成")
		return nil
	},
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.ForceMigrate = forceMigrate

	application, err := app.NewApp(cfg)
	if err != nil {
		return err
	}
	application.Run()
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configDir, "config", "c", "configs", "directory containing config.yaml")
	rootCmd.PersistentFlags().BoolVar(&forceMigrate, "migrate", false, "run migrations on start even in release mode")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
