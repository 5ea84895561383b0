// Package render は投稿・フォーラム説明のマークアップをHTMLとプレーンテキストに変換する。
package render

import "github.com/hitoshi/forumd/internal/model"

// RenderCaps はレンダリング時に有効にする構文の集合。
// 無効な構文はエスケープされたリテラルテキストとして出力される。
type RenderCaps struct {
	AllowTitles          bool
	AllowCodeBlocks      bool
	AllowAlertsBox       bool
	AllowTextFormatting  bool
	AllowTextExtra       bool
	AllowTextAlignments  bool
	AllowTextDirections  bool
	AllowTextModifiers   bool
	AllowTextColors      bool
	AllowSpoilers        bool
	AllowFigures         bool
	AllowLists           bool
	AllowTodoLists       bool
	AllowDefinitionLists bool
	AllowTables          bool
	AllowQuotes          bool
	AllowFootnotes       bool
	AllowAcronyms        bool
	AllowLinks           bool
	AllowMedias          bool
	AllowCDMExtra        bool
	ForceNofollow        bool
}

// DefaultCaps は特別な権限を持たない著者のRenderCapsを返す。
func DefaultCaps() RenderCaps {
	return RenderCaps{
		AllowCodeBlocks:      true,
		AllowTextFormatting:  true,
		AllowTextExtra:       true,
		AllowTextAlignments:  true,
		AllowTextDirections:  true,
		AllowTextModifiers:   true,
		AllowSpoilers:        true,
		AllowFigures:         true,
		AllowLists:           true,
		AllowTodoLists:       true,
		AllowDefinitionLists: true,
		AllowTables:          true,
		AllowQuotes:          true,
		AllowFootnotes:       true,
		AllowAcronyms:        true,
		AllowLinks:           true,
		AllowMedias:          true,
		ForceNofollow:        true,
	}
}

// CapsForUser は著者の権限からRenderCapsを導出する。
// 見出し・警告ボックス・文字色・CDM拡張は権限が必要で、
// allow_raw_link_in_post を持つ著者のリンクには nofollow を付けない。
func CapsForUser(u *model.User) RenderCaps {
	caps := DefaultCaps()
	caps.AllowTitles = u.Has(model.CapAllowTitlesInPost)
	caps.AllowAlertsBox = u.Has(model.CapAllowAlertsBoxInPost)
	caps.AllowTextColors = u.Has(model.CapAllowTextColorsInPost)
	caps.AllowCDMExtra = u.Has(model.CapAllowCDMExtraInPost)
	caps.ForceNofollow = !u.Has(model.CapAllowRawLinkInPost)
	return caps
}
