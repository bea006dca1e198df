package capture

// snapshotJS serializes the rendered tree in a single in-page evaluation.
// The field names mirror schemas.VisualNode and schemas.ComputedStyleSnapshot
// exactly; every computed value crosses as a raw string so all parsing stays
// on the Go side. Non-rendering subtrees (script, style, noscript, template)
// are skipped at the source to keep the payload small.
const snapshotJS = `(() => {
  const MAX_DEPTH = 512;
  const SKIP_TAGS = new Set(['script', 'style', 'noscript', 'template']);
  const pick = (cs) => ({
    display: cs.display,
    visibility: cs.visibility,
    opacity: cs.opacity,
    position: cs.position,
    left: cs.left,
    top: cs.top,
    flexDirection: cs.flexDirection,
    justifyContent: cs.justifyContent,
    alignItems: cs.alignItems,
    gap: cs.gap,
    paddingTop: cs.paddingTop,
    paddingRight: cs.paddingRight,
    paddingBottom: cs.paddingBottom,
    paddingLeft: cs.paddingLeft,
    backgroundColor: cs.backgroundColor,
    backgroundImage: cs.backgroundImage,
    borderTopLeftRadius: cs.borderTopLeftRadius,
    borderTopRightRadius: cs.borderTopRightRadius,
    borderBottomRightRadius: cs.borderBottomRightRadius,
    borderBottomLeftRadius: cs.borderBottomLeftRadius,
    color: cs.color,
    fontSize: cs.fontSize,
    fontWeight: cs.fontWeight,
    fontFamily: cs.fontFamily,
    lineHeight: cs.lineHeight,
    textAlign: cs.textAlign,
  });
  const walk = (node, depth) => {
    if (depth > MAX_DEPTH) {
      return null;
    }
    if (node.nodeType === Node.TEXT_NODE) {
      return { nodeType: 3, text: node.textContent || '' };
    }
    if (node.nodeType !== Node.ELEMENT_NODE) {
      return null;
    }
    const tag = node.tagName.toLowerCase();
    if (SKIP_TAGS.has(tag)) {
      return null;
    }
    const rect = node.getBoundingClientRect();
    const out = {
      nodeType: 1,
      tag: tag,
      rect: { x: rect.x, y: rect.y, width: rect.width, height: rect.height },
      style: pick(window.getComputedStyle(node)),
      children: [],
    };
    if (tag === 'img') {
      out.src = node.currentSrc || node.src || '';
    }
    for (const child of node.childNodes) {
      const converted = walk(child, depth + 1);
      if (converted) {
        out.children.push(converted);
      }
    }
    return out;
  };
  return walk(document.body, 0);
})()`

// scrollStepJS advances one viewport height and reports whether the page
// actually moved, so the auto-scroll loop can stop at the bottom.
const scrollStepJS = `(() => {
  const before = window.scrollY;
  window.scrollBy(0, window.innerHeight);
  return window.scrollY > before;
})()`

// scrollTopJS returns to the top so the snapshot sees initial coordinates.
const scrollTopJS = `window.scrollTo(0, 0)`
