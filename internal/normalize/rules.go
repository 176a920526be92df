// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package normalize

import "regexp"

// Rule is one ordered rewrite step of a normalization pipeline.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Replace string
}

func rule(name, pattern, replace string) Rule {
	return Rule{Name: name, Pattern: regexp.MustCompile(pattern), Replace: replace}
}

// sep matches the separators scene titles use between words.
const sep = `[\s._]`

var (
	languageRule = rule("language",
		`[\[(][^\])]*\b(?:multi(?:-?lang|-?audio)?|multi\d+|dual(?:-?audio)?|audio|subs?|subbed|dubbed|lang(?:uage)?s?|eng(?:lish)?|fre(?:nch)?|ger(?:man)?|spa(?:nish)?|ita(?:lian)?|rus(?:sian)?|vostfr|pl)\b[^\])]*[\])]`,
		" ")

	// a year needs title text before it, and numbers past 2039 belong to the
	// title (Blade Runner 2049, Cyberpunk 2077)
	yearRule = rule("year", `(\S)(?:[\s._]+[\[(]?|[\[(])(?:19\d{2}|20[0-3]\d)\b[\])]?`, "$1 ")

	emptyBracketsRule = rule("empty-brackets", `[\[(][\s._-]*[\])]`, " ")

	leadingJunkRule = rule("leading-junk", `^[\s._-]+`, "")

	articleRule = rule("article", `^(?:(?:the|a|an)`+sep+`+)+`, "")
)

// MovieRules normalizes movie release titles.
var MovieRules = []Rule{
	languageRule,
	rule("edition",
		`\b(?:extended(?:`+sep+`+(?:cut|edition))?|director'?s`+sep+`+cut|remastered|unrated|uncut|theatrical(?:`+sep+`+cut)?|imax(?:`+sep+`+edition)?|criterion(?:`+sep+`+collection)?|special`+sep+`+edition|anniversary`+sep+`+edition)\b`,
		" "),
	// everything from the first release tag onward describes the encode, not the title
	rule("release-tags",
		`[\s._\[(-]+(?:\d{3,4}[pi]|4k|uhd|hdr(?:10\+?)?|dovi|blu-?ray|bdrip|brrip|bdremux|web-?dl|web-?rip|hdtv|hdrip|dvdrip|dvdscr|x26[45]|h\.?26[45]|hevc|avc|xvid|10bit|amzn|dsnp|hmax|atvp)\b.*$`,
		""),
	// words that also occur in titles only count as scene flags after the year
	rule("scene-flags",
		`([\s._\[(](?:19\d{2}|20[0-3]\d)[\])]?)[\s._-]+(?:proper|repack|rerip|real|internal|remux|dv|limited)\b.*$`,
		"$1"),
	yearRule,
	emptyBracketsRule,
	// dotted scene form: Title.Name-GROUP
	rule("group-dotted", `^(\S*[._]\S*)-[a-z0-9]+$`, "$1"),
	rule("group", sep+`+-[a-z0-9]+$`, ""),
	leadingJunkRule,
	articleRule,
	rule("separators", `[._]+`, " "),
	rule("whitespace", `\s+`, " "),
	rule("trim", `^[\s-]+|[\s-]+$`, ""),
}

// GameRules normalizes game release titles.
var GameRules = []Rule{
	languageRule,
	rule("repacker", `[\[(][^\])]*\b(?:repack|fitgirl|dodi|elamigos|kaoskrew|xatab)\b[^\])]*[\])]`, " "),
	rule("edition",
		`\b(?:ultimate|goty|game`+sep+`+of`+sep+`+the`+sep+`+year|deluxe|definitive|premium|enhanced|anniversary|collectors?|complete|repack|proper|edition)\b`,
		" "),
	yearRule,
	// update/patch/DLC markers carry their version; strip them before the generic version rule
	rule("update-dated", `\b\d{8}[\s._-]*(?:update|patch)\b`, " "),
	rule("update", `\b(?:update|patch|hotfix)[\s._-]*v?\d+(?:[\s._]\d+)*[a-z]?\b`, " "),
	rule("dlc-included", `(?:\+|\bincl(?:uding|\.)?|\bwith)[\s._]*(?:all[\s._]+)?(?:\d+[\s._]*)?dlcs?\b`, " "),
	rule("dlc", `\b(?:dlcs?|season`+sep+`+pass|add-?ons?|expansion)\b`, " "),
	rule("version", `\bv(?:ersion)?[\s._]*\d+(?:[._]\d+)*[a-z]?\b`, " "),
	rule("build", `\bbuild[\s._]*\d+\b`, " "),
	rule("platform",
		`\b(?:pc|windows|win(?:32|64|7|10|11)?|x64|x86|32-?bit|64-?bit|linux|macos|mac|osx|nsw|switch|ps[345]|psv(?:ita)?|xbox(?:`+sep+`*(?:360|one|series`+sep+`*[xs]))?|x360|xone|wii`+sep+`*u|wii|3ds|nds|gog|steam(?:rip)?|drm-?free|iso)\b`,
		" "),
	rule("region", `\b(?:usa|eur|europe|jpn|japan|pal|ntsc(?:-[uj])?|region`+sep+`*free|asia|kor|chn|multi\d*)\b`, " "),
	emptyBracketsRule,
	rule("group", `-[a-z0-9]+$`, ""),
	leadingJunkRule,
	articleRule,
	rule("separators", `[._-]+`, " "),
	rule("whitespace", `\s+`, " "),
	rule("trim", `^\s+|\s+$`, ""),
}

// BasicRules only folds separators; used for items outside the movie and game domains.
var BasicRules = []Rule{
	rule("separators", `[._]+`, " "),
	rule("whitespace", `\s+`, " "),
	rule("trim", `^\s+|\s+$`, ""),
}
