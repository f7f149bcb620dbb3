// Package main 是终端聊天客户端的入口点。
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"dalo-chat-go/pkg/chatclient"
)

func main() {
	server := flag.String("server", "http://localhost:3000/api/v1", "聊天服务的 API 地址")
	flag.Parse()

	client := chatclient.New(*server, chatclient.WithContentCallback(func(fragment string) {
		fmt.Print(fragment)
	}))

	ctx := context.Background()
	fmt.Println("dalo-chat 终端客户端。输入 /help 查看命令。")

	var chats []chatclient.Chat
	var currentChat string

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/help":
			fmt.Println("/chats          列出会话")
			fmt.Println("/new [标题]     创建会话")
			fmt.Println("/open <序号>    打开会话并加载历史")
			fmt.Println("/more           加载更早的历史")
			fmt.Println("/delete <序号>  删除会话")
			fmt.Println("/quit           退出")
			fmt.Println("其他输入直接作为消息发送到当前会话")

		case line == "/quit":
			return

		case line == "/chats":
			var err error
			chats, err = client.ListChats(ctx)
			if err != nil {
				fmt.Println("错误:", err)
				continue
			}
			for i, chat := range chats {
				marker := " "
				if chat.ID == currentChat {
					marker = "*"
				}
				fmt.Printf("%s [%d] %s (%s)\n", marker, i+1, chat.Title, chat.UpdatedAt.Format("2006-01-02 15:04"))
			}

		case strings.HasPrefix(line, "/new"):
			title := strings.TrimSpace(strings.TrimPrefix(line, "/new"))
			chat, err := client.CreateChat(ctx, title)
			if err != nil {
				fmt.Println("错误:", err)
				continue
			}
			fmt.Printf("已创建会话 %s\n", chat.Title)
			currentChat = chat.ID
			chats = append([]chatclient.Chat{*chat}, chats...)

		case strings.HasPrefix(line, "/open"):
			chat, ok := pickChat(chats, strings.TrimPrefix(line, "/open"))
			if !ok {
				fmt.Println("请先 /chats 并指定有效序号")
				continue
			}
			if err := client.LoadMessages(ctx, chat.ID); err != nil {
				fmt.Println("错误:", err)
				continue
			}
			currentChat = chat.ID
			printMessages(client.Messages())

		case line == "/more":
			if currentChat == "" {
				fmt.Println("当前没有打开的会话")
				continue
			}
			if !client.HasMore() {
				fmt.Println("没有更早的历史了")
				continue
			}
			if err := client.LoadMoreMessages(ctx, currentChat); err != nil {
				fmt.Println("错误:", err)
				continue
			}
			printMessages(client.Messages())

		case strings.HasPrefix(line, "/delete"):
			chat, ok := pickChat(chats, strings.TrimPrefix(line, "/delete"))
			if !ok {
				fmt.Println("请先 /chats 并指定有效序号")
				continue
			}
			if err := client.DeleteChat(ctx, chat.ID); err != nil {
				fmt.Println("错误:", err)
				continue
			}
			fmt.Printf("已删除会话 %s\n", chat.Title)
			if chat.ID == currentChat {
				currentChat = ""
			}

		default:
			if currentChat == "" {
				fmt.Println("请先 /open 一个会话或 /new 创建")
				continue
			}
			if err := client.SendAndStream(ctx, currentChat, line); err != nil {
				fmt.Println("\n发送失败:", err)
				continue
			}
			fmt.Println()
		}
	}
}

// pickChat 根据 1 起始的序号从列表中选择会话。
func pickChat(chats []chatclient.Chat, arg string) (chatclient.Chat, bool) {
	idx, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || idx < 1 || idx > len(chats) {
		return chatclient.Chat{}, false
	}
	return chats[idx-1], true
}

// printMessages 把消息打印为简单的对话形式。
func printMessages(messages []chatclient.Message) {
	for _, m := range messages {
		prefix := "你"
		if m.Role == "assistant" {
			prefix = "AI"
		}
		fmt.Printf("%s: %s\n", prefix, m.Content)
	}
}
