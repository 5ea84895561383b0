package model

// IDプロバイダーが付与する権限文字列。
const (
	CapSeePrivateForum = "see_private_forum"
	CapChangePost      = "change_post"
	CapDeletePost      = "delete_post"
	CapChangeThread    = "change_thread"
	CapDeleteThread    = "delete_thread"
	CapSeePostIP       = "see_post_ip"
	CapAddStrike       = "add_strike"
	CapManageForums    = "manage_forums"

	// 投稿本文のレンダリング機能を解放する権限
	CapAllowTitlesInPost     = "allow_titles_in_post"
	CapAllowAlertsBoxInPost  = "allow_alerts_box_in_post"
	CapAllowTextColorsInPost = "allow_text_colors_in_post"
	CapAllowCDMExtraInPost   = "allow_cdm_extra_in_post"
	CapAllowRawLinkInPost    = "allow_raw_link_in_post"
)
