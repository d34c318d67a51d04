package deck

import "strings"

// bindSelectors substitutes the shared selector constants into a JS
// template so the page queries and selectors.go cannot drift apart.
func bindSelectors(tmpl string) string {
	return strings.NewReplacer(
		"__COLUMNS__", ColumnContent,
		"__HEADER__", ColumnHeader,
		"__CELL__", ColumnCell,
		"__ARTICLE__", TweetArticle,
		"__TEXT__", TweetText,
		"__AUTHOR__", TweetAuthor,
		"__TIME__", TweetTimestamp,
		"__STATUS_LINK__", TweetLink,
		"__AVATAR__", TweetAvatar,
		"__PHOTO__", TweetPhoto,
		"__VIDEO__", TweetVideo,
		"__SOCIAL_CONTEXT__", RepostIndicator,
		"__QUOTE_BOX__", QuoteContainer,
	).Replace(tmpl)
}

// extractNewestJS is the page-context projection query. It selects the
// newest real post of one column (placeholder cells carry no temporal
// marker) and captures every field the extractor needs in a single round
// trip. Selector placeholders are bound from selectors.go at init; the
// column index is interpolated with fmt.Sprintf.
var extractNewestJS = bindSelectors(`
	(function() {
		const empty = { found: false };
		const columns = document.querySelectorAll('__COLUMNS__');
		const column = columns[%d];
		if (!column) return empty;

		const hasTime = el => el.querySelector('__TIME__') !== null;

		// Newest-item strategies, most to least specific. Each candidate must
		// structurally contain a temporal marker to count as a real post.
		let article = null;
		const cellFirst = column.querySelector('__CELL__ __ARTICLE__');
		if (cellFirst && hasTime(cellFirst)) article = cellFirst;
		if (!article) {
			const direct = column.querySelector('__ARTICLE__');
			if (direct && hasTime(direct)) article = direct;
		}
		if (!article) {
			article = Array.from(column.querySelectorAll('article')).find(hasTime) || null;
		}
		if (!article) return empty;

		// Identity: explicit attribute, then the time marker's enclosing
		// status link, then any descendant carrying the attribute.
		let id = article.getAttribute('data-tweet-id') || '';
		if (!id) {
			const timeEl = article.querySelector('__TIME__');
			const link = timeEl ? timeEl.closest('__STATUS_LINK__') : null;
			const m = link && link.href ? link.href.match(/status\/(\d+)/) : null;
			if (m) id = m[1];
		}
		if (!id) {
			const holder = article.querySelector('[data-tweet-id]');
			if (holder) id = holder.getAttribute('data-tweet-id') || '';
		}

		const timeEl = article.querySelector('__TIME__');
		const timestamp = timeEl ? (timeEl.getAttribute('datetime') || '') : '';

		// Author: the @-span is the handle, the first non-empty non-handle
		// span is the display name.
		const userBlocks = article.querySelectorAll('__AUTHOR__');
		let authorHandle = '';
		let authorName = '';
		if (userBlocks.length > 0) {
			const spans = Array.from(userBlocks[0].querySelectorAll('span'));
			const handleSpan = spans.find(s => s.textContent.trim().startsWith('@'));
			if (handleSpan) authorHandle = handleSpan.textContent.trim();
			const nameSpan = spans.find(s => {
				const t = s.textContent.trim();
				return t && !t.startsWith('@');
			});
			if (nameSpan) authorName = nameSpan.textContent.trim();
		}

		const avatarImg = article.querySelector('__AVATAR__');
		const avatarUrl = avatarImg ? (avatarImg.src || '') : '';

		const textBlocks = article.querySelectorAll('__TEXT__');
		const text = textBlocks.length > 0 ? textBlocks[0].textContent : '';
		const secondaryText = textBlocks.length > 1 ? textBlocks[1].textContent : '';

		let secondaryHandle = '';
		if (userBlocks.length > 1) {
			const span = Array.from(userBlocks[1].querySelectorAll('span'))
				.find(s => s.textContent.includes('@'));
			if (span) secondaryHandle = span.textContent.trim();
		}

		// The social context annotation lives on the enclosing cell, not
		// inside the article itself.
		const cell = article.closest('__CELL__');
		const contextEl = (cell || article.parentElement || article)
			.querySelector('__SOCIAL_CONTEXT__');
		const socialContext = contextEl ? contextEl.textContent : '';

		const quoteBox = article.querySelector('__QUOTE_BOX__');

		const images = [];
		const videos = [];
		const gifs = [];
		article.querySelectorAll('__PHOTO__').forEach(img => {
			const src = img.src || '';
			if (!src || src.includes('profile_images') || src.includes('emoji')) return;
			images.push({
				url: src,
				alt: img.alt || '',
				secondary: quoteBox ? quoteBox.contains(img) : false
			});
		});
		article.querySelectorAll('__VIDEO__').forEach(v => {
			const src = v.src || v.poster || '';
			if (!src) return;
			const entry = {
				url: src,
				alt: '',
				secondary: quoteBox ? quoteBox.contains(v) : false
			};
			if (src.includes('tweet_video')) {
				gifs.push(entry);
			} else {
				videos.push(entry);
			}
		});

		return {
			found: true,
			id: id,
			text: text,
			authorHandle: authorHandle,
			authorName: authorName,
			avatarUrl: avatarUrl,
			timestamp: timestamp,
			socialContext: socialContext,
			textBlocks: textBlocks.length,
			userBlocks: userBlocks.length,
			secondaryText: secondaryText,
			secondaryHandle: secondaryHandle,
			images: images,
			videos: videos,
			gifs: gifs
		};
	})()
`)

// locateColumnsJS collects the ordered deck columns with their header
// titles. A column without a header falls back to its index as title.
var locateColumnsJS = bindSelectors(`
	(function() {
		const columns = document.querySelectorAll('__COLUMNS__');
		const results = [];
		columns.forEach((col, index) => {
			const header = col.querySelector('__HEADER__');
			const title = header && header.textContent.trim() ? header.textContent.trim() : String(index);
			results.push({ index: index, title: title });
		});
		return results;
	})()
`)
