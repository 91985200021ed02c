// cmd/demo/main.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/NekoFlux/CyberCompanion/internal/app"
	"github.com/NekoFlux/CyberCompanion/internal/backend"
	"github.com/NekoFlux/CyberCompanion/internal/config"
	"github.com/NekoFlux/CyberCompanion/internal/content"
	"github.com/NekoFlux/CyberCompanion/internal/di"
	"github.com/NekoFlux/CyberCompanion/internal/models"
	"github.com/NekoFlux/CyberCompanion/internal/services"
	"github.com/NekoFlux/CyberCompanion/internal/utils"
)

func main() {
	fmt.Println("CyberCompanion Console")
	fmt.Println("======================")

	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	logFile := filepath.Join(baseConfig.LogDir, fmt.Sprintf("console_%s.log", time.Now().Format("2006-01-02")))
	if err := utils.InitLogger(logFile); err != nil {
		log.Printf("无法初始化结构化日志: %v", err)
	}

	if err := config.InitConfig(baseConfig.DataDir); err != nil {
		log.Fatalf("初始化配置系统失败: %v", err)
	}
	if err := app.InitServices(); err != nil {
		log.Fatalf("初始化服务失败: %v", err)
	}

	manager := di.GetContainer().Get("manager").(*services.Manager)
	reader := bufio.NewReader(os.Stdin)

	profile := chooseCharacter(manager, reader)
	svc := manager.SessionFor(profile)

	fmt.Printf("\n开始与 %s 对话，输入 /quit 退出，/feedback 查看状态\n\n", profile.NikName)

	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)

		switch {
		case line == "":
			continue
		case line == "/quit":
			fmt.Println("再见")
			return
		case line == "/feedback":
			printFeedback(svc.Session().Feedback())
			continue
		}

		final, err := svc.SendMessage(context.Background(), line, func(d backend.StreamDelta) {
			fmt.Print(d.TextFragment)
		})
		if err != nil {
			fmt.Printf("\n[出错] %v\n", err)
			continue
		}
		fmt.Println()
		printReply(profile.NikName, final)
	}
}

// chooseCharacter 列出本地角色档案供选择，没有时创建默认角色
func chooseCharacter(manager *services.Manager, reader *bufio.Reader) models.CharacterProfile {
	profiles, err := manager.ListProfiles()
	if err != nil || len(profiles) == 0 {
		profile := models.CharacterProfile{
			SlID:    "sl_console",
			NikName: "小助手",
			Intro:   "控制台测试角色",
		}
		if err := manager.SaveProfile(profile); err != nil {
			log.Printf("保存默认角色失败: %v", err)
		}
		return profile
	}

	fmt.Println("\n选择角色:")
	for i, p := range profiles {
		fmt.Printf("  %d. %s (%s)\n", i+1, p.NikName, p.SlID)
	}
	fmt.Print("> ")
	line, _ := reader.ReadString('\n')
	idx := 0
	fmt.Sscanf(strings.TrimSpace(line), "%d", &idx)
	if idx >= 1 && idx <= len(profiles) {
		return profiles[idx-1]
	}
	return profiles[0]
}

// printReply 把定稿回复分段展示
func printReply(name string, turn models.ChatTurn) {
	fmt.Printf("\n──── %s ────\n", name)
	for _, seg := range content.ParseTags(turn.Content) {
		switch seg.Kind {
		case models.SegmentSpeech:
			fmt.Printf("「%s」\n", seg.Text)
		case models.SegmentInnerThoughts:
			fmt.Printf("(%s)\n", seg.Text)
		case models.SegmentFeature:
			fmt.Printf("*%s*\n", seg.Text)
		case models.SegmentSummary, models.SegmentMem:
			// 总结与记忆不直接展示
		default:
			fmt.Println(seg.Text)
		}
	}
	fmt.Println()
}

func printFeedback(fb models.FeedbackState) {
	fmt.Printf("心动程度: %d  发情程度: %d\n", fb.Affinity, fb.Arousal)
	if fb.MemoryDigest != "" {
		fmt.Printf("记忆精炼: %s\n", fb.MemoryDigest)
	}
	if fb.ReviewDigest != "" {
		fmt.Printf("回顾: %s\n", fb.ReviewDigest)
	}
}
