// Package main provides localization for the framebrc CLI.
package main

import (
	"github.com/ideamans/go-l10n"
)

func init() {
	// Register Japanese translations for CLI messages.
	l10n.Register("ja", l10n.LexiconMap{
		// Root command
		"Drive per-frame encode sessions with adaptive bitrate control": "適応ビットレート制御によるフレーム単位のエンコードセッションを実行",

		"framebrc schedules the stages of every picture on a device, re-encodes frames that miss their bit budget and writes the packetized stream.": "framebrcは各ピクチャのステージをデバイス上でスケジュールし、ビット予算を外れたフレームを再エンコードし、パケット化したストリームを書き出します。",

		// Run command
		"Encode a scenario on the simulated device":                     "シミュレーションデバイスでシナリオをエンコード",
		"YAML configuration file":                                       "YAML設定ファイル",
		"Rate control preset (streaming, broadcast, archive, lowdelay)": "レート制御プリセット（streaming, broadcast, archive, lowdelay）",
		"Number of frames to encode":                                    "エンコードするフレーム数",
		"Output MP4 file path (empty discards the stream)":              "出力MP4ファイルパス（空の場合はストリームを破棄）",
		"Maximum re-encode passes per frame":                            "フレームあたりの最大再エンコードパス数",
		"Rate control mode (cbr, vbr, avbr, cqp, icq, qvbr)":            "レート制御モード（cbr, vbr, avbr, cqp, icq, qvbr）",
		"Target bitrate in kbps":                                        "目標ビットレート（kbps）",

		// Thresholds command
		"Print the deviation thresholds for a bitrate and buffer": "ビットレートとバッファに対する偏差しきい値を表示",
		"Buffer size in kbit (0 = four frames)":                   "バッファサイズ（kbit、0 = 4フレーム分）",
		"Frame rate":                                              "フレームレート",
		"Use the low-delay tables":                                "低遅延テーブルを使用",
		"Bits per frame: %.0f, buffer: %.0f, ratio: %.2f":         "フレームあたりビット数: %.0f, バッファ: %.0f, 比率: %.2f",

		// Version command
		"Show version information": "バージョン情報を表示",
		"framebrc version %s":      "framebrc バージョン %s",

		// Debug flags
		"Enable debug output":        "デバッグ出力を有効化",
		"Directory for debug output": "デバッグ出力のディレクトリ",

		// Logging flags
		"Log level (debug, info, warn, error)": "ログレベル（debug, info, warn, error）",
		"Suppress all log output":              "全てのログ出力を抑制",

		// Runtime messages
		"Encoding %d frames (%s, %s preset)...":       "%d フレームをエンコード中 (%s, %s プリセット)...",
		"Output saved to %s":                          "出力を %s に保存しました",
		"No MP4 output for %s, discarding the stream": "%s はMP4出力に対応していません。ストリームを破棄します",

		// Summary output flag
		"Output execution summary to file (Markdown, or YAML for .yaml paths)": "実行サマリーをファイルに出力（Markdown形式、.yaml の場合はYAML形式）",

		"Summary saved to %s":         "サマリーを %s に保存しました",
		"Failed to write summary: %s": "サマリーの書き込みに失敗しました: %s",
	})
}
