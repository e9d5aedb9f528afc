package compactor

import (
	"strings"
	"testing"
)

func TestNormalizeFullwidthPunctuation(t *testing.T) {
	got := Precompress("决定了！用金丝雀发布？好：对。", PrecompressOptions{})
	for _, bad := range []string{"！", "？", "：", "。"} {
		if strings.Contains(got, bad) {
			t.Errorf("fullwidth %q survived: %q", bad, got)
		}
	}
}

func TestBlankLineCollapse(t *testing.T) {
	got := Precompress("a\n\n\n\n\nb", PrecompressOptions{})
	if got != "a\n\n\nb" {
		t.Errorf("blank run not collapsed: %q", got)
	}
	if !strings.Contains(got, "a") || !strings.Contains(got, "b") {
		t.Errorf("content lost: %q", got)
	}
}

func TestExactDuplicateLines(t *testing.T) {
	got := Precompress("same line\nother\nsame line", PrecompressOptions{})
	if strings.Count(got, "same line") != 1 {
		t.Errorf("duplicate line survived: %q", got)
	}
}

func TestEmptySectionRemoval(t *testing.T) {
	in := "# Kept\nbody text\n\n# Empty\n\n# Also Kept\nmore"
	got := Precompress(in, PrecompressOptions{})
	if strings.Contains(got, "# Empty") {
		t.Errorf("empty section survived: %q", got)
	}
	if !strings.Contains(got, "# Kept") || !strings.Contains(got, "# Also Kept") {
		t.Errorf("non-empty sections lost: %q", got)
	}
}

func TestEmptySectionWithDeeperChildKept(t *testing.T) {
	in := "# Parent\n## Child\nchild body"
	got := Precompress(in, PrecompressOptions{})
	if !strings.Contains(got, "# Parent") {
		t.Errorf("parent with deeper child removed: %q", got)
	}
}

func TestTwoColumnTableBecomesBullets(t *testing.T) {
	in := "| Key | Value |\n| --- | --- |\n| City | Lisbon |\n| Lang | Go |"
	got := Precompress(in, PrecompressOptions{})
	if !strings.Contains(got, "- City: Lisbon") || !strings.Contains(got, "- Lang: Go") {
		t.Errorf("2-col table not compressed: %q", got)
	}
	if strings.Contains(got, "|") {
		t.Errorf("pipes survived 2-col compression: %q", got)
	}
}

func TestThreeColumnTableCompactLines(t *testing.T) {
	in := "| Name | Status | Owner |\n| --- | --- | --- |\n| api | done | sam |"
	got := Precompress(in, PrecompressOptions{})
	if !strings.Contains(got, "- api, Status=done, Owner=sam") {
		t.Errorf("3-col table not compacted: %q", got)
	}
}

func TestWideTableKeepsRows(t *testing.T) {
	in := "| a | b | c | d | e |\n| - | - | - | - | - |\n| 1 | 2 | 3 | 4 | 5 |"
	got := Precompress(in, PrecompressOptions{})
	if !strings.Contains(got, "1 | 2 | 3 | 4 | 5") {
		t.Errorf("wide table rows lost: %q", got)
	}
	if strings.Contains(got, "| a | b") {
		t.Errorf("wide table header survived: %q", got)
	}
}

func TestEmojiStripOptional(t *testing.T) {
	in := "ship it 🚀 now ✅"
	kept := Precompress(in, PrecompressOptions{})
	if !strings.Contains(kept, "🚀") {
		t.Errorf("emoji stripped without the option: %q", kept)
	}
	stripped := Precompress(in, PrecompressOptions{StripEmoji: true})
	if strings.Contains(stripped, "🚀") || strings.Contains(stripped, "✅") {
		t.Errorf("emoji survived strip: %q", stripped)
	}
}

func TestNearDuplicateBulletsMergeKeepingLonger(t *testing.T) {
	in := "- deploy the api service\n- deploy the api service today"
	got := Precompress(in, PrecompressOptions{})
	if strings.Count(got, "deploy the api service") != 1 {
		t.Errorf("near-duplicate bullets not merged: %q", got)
	}
	if !strings.Contains(got, "today") {
		t.Errorf("longer variant not kept: %q", got)
	}
}

func TestShortBulletRunsJoin(t *testing.T) {
	in := "- alpha\n- beta\n- gamma release\nafter"
	got := Precompress(in, PrecompressOptions{})
	if !strings.Contains(got, "- alpha, beta, gamma release") {
		t.Errorf("short bullet run not joined: %q", got)
	}

	// Two short bullets stay separate.
	got = Precompress("- one\n- two\ntext", PrecompressOptions{})
	if strings.Contains(got, "one, two") {
		t.Errorf("pair of bullets wrongly joined: %q", got)
	}
}

func TestDecorativeLinesRemoved(t *testing.T) {
	got := Precompress("above\n----------\nbelow\n==========\nend", PrecompressOptions{})
	if strings.Contains(got, "---") || strings.Contains(got, "===") {
		t.Errorf("decorative lines survived: %q", got)
	}
}

func TestEmptyInput(t *testing.T) {
	if got := Precompress("   \n\n  ", PrecompressOptions{}); got != "" {
		t.Errorf("whitespace-only input = %q, want empty", got)
	}
}
