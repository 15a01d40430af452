package logger

import "github.com/ideamans/go-l10n"

func init() {
	l10n.Register("ja", l10n.LexiconMap{
		// Session level messages (info)
		"Starting session %s":                              "セッション %s を開始します",
		"Session completed: %d frames encoded, %d dropped": "セッション完了: %d フレームをエンコード, %d フレームを破棄",
		"Allocated %d slots for %dx%d MBs (%s, %s)":        "%d スロットを確保しました (%dx%d MB, %s, %s)",
		"Frame %d (%s) encoded: QP %d, %d passes, %d bits": "フレーム %d (%s) エンコード完了: QP %d, %d パス, %d ビット",
		"Interrupted, shutting down...":                    "中断されました。シャットダウン中...",

		// Scheduler and pool (debug)
		"Stage %s frame %d pass %d completed in %s":   "ステージ %s フレーム %d パス %d が %s で完了",
		"Waiting for slot %d to retire":               "スロット %d の解放を待機中",
		"Allocated %d resource slots (%d MBs)":        "%d 個のリソーススロットを確保しました (%d MB)",
		"Frame %d retrying at QP %d":                  "フレーム %d を QP %d で再エンコードします",
		"Scene change detected at frame %d":           "フレーム %d でシーンチェンジを検出しました",
		"Failed to save parameter block: %s":          "パラメータブロックの保存に失敗しました: %s",
		"Cancelled %d outstanding stages of frame %d": "フレーム %[2]d の未完了ステージ %[1]d 個を取り消しました",

		"Frame %d pass %d: %d bits for %d target (%.1f%%, bucket %d)": "フレーム %d パス %d: %d ビット / 目標 %d (%.1f%%, バケット %d)",

		// Rate control (debug)
		"Rate control %s: %.0f bits/frame, buffer %.0f, initial %.0f, ratio %.2f": "レート制御 %s: %.0f ビット/フレーム, バッファ %.0f, 初期値 %.0f, 比率 %.2f",

		"Skipped %d frames (%d bits)":          "%d フレームをスキップしました (%d ビット)",
		"Frame %d accepted without converging": "フレーム %d は収束せずに確定しました",

		// Parameters
		"Frame %d has %d regions, using the first %d": "フレーム %d に %d 個の領域があります。先頭の %d 個を使用します",

		"Ignoring dirty rectangles on frame %d: reference is not the previous reconstruction": "フレーム %d のダーティ矩形を無視します: 参照が直前の再構成画像ではありません",

		// Packetizer and telemetry (debug)
		"Wrote fragment %d for frame %d (%d bytes)":                          "フラグメント %d を書き込みました (フレーム %d, %d バイト)",
		"Dropping unpaired top field":                                        "対になる下フィールドのないトップフィールドを破棄します",
		"Telemetry: frame %d (%s) dropped":                                   "テレメトリ: フレーム %d (%s) 破棄",
		"Telemetry: frame %d (%s) QP %d, %d passes, %d/%d bits, fullness %d": "テレメトリ: フレーム %d (%s) QP %d, %d パス, %d/%d ビット, 充満度 %d",

		// Warnings
		"Frame %d dropped: %s":                        "フレーム %d を破棄しました: %s",
		"Frame %d: second field never arrived":        "フレーム %d: 第2フィールドが届きませんでした",
		"Rate control commit failed for frame %d: %s": "フレーム %d のレート制御の確定に失敗しました: %s",
		"Rate control abort failed for frame %d: %s":  "フレーム %d のレート制御の取り消しに失敗しました: %s",
		"Failed to save QP map: %s":                   "QPマップの保存に失敗しました: %s",
		"Failed to save ROI map: %s":                  "ROIマップの保存に失敗しました: %s",
		"Failed to save session state: %s":            "セッション状態の保存に失敗しました: %s",

		// Errors
		"Session terminated at frame %d: %s": "フレーム %d でセッションが終了しました: %s",
	})
}
