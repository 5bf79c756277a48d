package app

import (
	"fmt"
	"strings"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーを起動する。引数なしの場合もこれになる。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションの定期削除を行う。
	CommandWorker Command = "worker"
	// CommandMigrate はストアのスキーマを最新にする。
	CommandMigrate Command = "migrate"
	// CommandCreateUser はアカウントを直接作成する。
	// todoman create-user <username> <password>
	CommandCreateUser Command = "create-user"
	// CommandHealthcheck は稼働中のサーバーの/healthを確認する。
	// distrolessイメージのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

var knownCommands = []Command{
	CommandServe,
	CommandWorker,
	CommandMigrate,
	CommandCreateUser,
	CommandHealthcheck,
}

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 引数が空の場合はCommandServe、未知のサブコマンドはエラーを返す。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}
	for _, cmd := range knownCommands {
		if args[0] == string(cmd) {
			return cmd, nil
		}
	}
	return "", fmt.Errorf("unknown command %q (available: %s)", args[0], commandList())
}

func commandList() string {
	names := make([]string, len(knownCommands))
	for i, cmd := range knownCommands {
		names[i] = string(cmd)
	}
	return strings.Join(names, ", ")
}
